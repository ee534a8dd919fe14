package filetransfer

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func chunkPacket(t *testing.T, channel byte, offset uint32, data []byte) *wire.Reader {
	t.Helper()
	w := wire.NewWriter(wire.ClassFileTransfer)
	w.WriteByte(msgChunk)
	w.WriteByte(channel)
	w.WriteUint32(offset)
	w.WriteBytes(data)
	w.WriteEnd()
	r, _ := wire.NewReader(w.Bytes())
	return r
}

func startPacket(t *testing.T, channel byte, name string, data []byte) *wire.Reader {
	t.Helper()
	w := wire.NewWriter(wire.ClassFileTransfer)
	w.WriteByte(msgStart)
	w.WriteByte(channel)
	w.WriteByte(byte(TypeSubmarine))
	w.WriteString(name)
	w.WriteUint32(uint32(len(data)))
	w.WriteString(ContentHash(data))
	w.WriteEnd()
	r, _ := wire.NewReader(w.Bytes())
	return r
}

func TestShuffledChunksWithDuplicatesReconstruct(t *testing.T) {
	src := make([]byte, 10*ChunkSize+137)
	rng := rand.New(rand.NewSource(42))
	rng.Read(src)

	conn, _ := transport.NewPipe()
	var finished *InTransfer
	recv, err := NewReceiver(conn, WithOnFinished(func(tr *InTransfer) { finished = tr }))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, recv.HandlePacket(startPacket(t, 0, "typhon.sub", src), now))

	type piece struct {
		offset uint32
		data   []byte
	}
	var pieces []piece
	for off := 0; off < len(src); off += ChunkSize {
		end := off + ChunkSize
		if end > len(src) {
			end = len(src)
		}
		pieces = append(pieces, piece{uint32(off), src[off:end]})
	}
	// deliver shuffled, with ~10% of pieces duplicated to simulate resends
	rng.Shuffle(len(pieces), func(i, j int) { pieces[i], pieces[j] = pieces[j], pieces[i] })
	var resent []piece
	for i, p := range pieces {
		if i%10 == 0 {
			resent = append(resent, p)
		}
	}
	pieces = append(pieces, resent...)

	for _, p := range pieces {
		require.NoError(t, recv.HandlePacket(chunkPacket(t, 0, p.offset, p.data), now))
	}

	require.NotNil(t, finished)
	require.Equal(t, StatusCompleted, finished.Status)
	require.Equal(t, len(src), finished.ReceivedBytes())
	require.True(t, bytes.Equal(src, finished.Bytes()))
}

func TestHashMismatchFails(t *testing.T) {
	conn, _ := transport.NewPipe()
	var failed *InTransfer
	recv, err := NewReceiver(conn, WithOnFailed(func(tr *InTransfer) { failed = tr }))
	require.NoError(t, err)

	now := time.Now()
	data := []byte("correct content")
	require.NoError(t, recv.HandlePacket(startPacket(t, 0, "save.dat", data), now))
	tampered := []byte("tampered conten") // same length, different bytes
	require.NoError(t, recv.HandlePacket(chunkPacket(t, 0, 0, tampered), now))

	require.NotNil(t, failed)
	require.Equal(t, StatusFailed, failed.Status)
}

func TestChunkPastEndIsProtocolError(t *testing.T) {
	conn, _ := transport.NewPipe()
	recv, err := NewReceiver(conn)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, recv.HandlePacket(startPacket(t, 0, "save.dat", make([]byte, 10)), now))
	err = recv.HandlePacket(chunkPacket(t, 0, 8, []byte("too much data")), now)
	require.Error(t, err)
	_, ok := recv.Active(0)
	require.False(t, ok, "the transfer must be torn down")
}

func TestStalledTransferFails(t *testing.T) {
	conn, _ := transport.NewPipe()
	var failed *InTransfer
	recv, err := NewReceiver(conn, WithOnFailed(func(tr *InTransfer) { failed = tr }))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, recv.HandlePacket(startPacket(t, 1, "big.sub", make([]byte, 1<<20)), now))
	recv.Update(now.Add(StallTimeout / 2))
	require.Nil(t, failed)
	recv.Update(now.Add(StallTimeout + time.Second))
	require.NotNil(t, failed)
	require.Equal(t, StatusFailed, failed.Status)
}

func TestNewStartOnOccupiedChannelReplaces(t *testing.T) {
	conn, _ := transport.NewPipe()
	var failures []*InTransfer
	recv, err := NewReceiver(conn, WithOnFailed(func(tr *InTransfer) { failures = append(failures, tr) }))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, recv.HandlePacket(startPacket(t, 0, "first.sub", make([]byte, 100)), now))
	require.NoError(t, recv.HandlePacket(startPacket(t, 0, "second.sub", make([]byte, 100)), now))

	require.Len(t, failures, 1)
	require.Equal(t, "first.sub", failures[0].Name)
	active, ok := recv.Active(0)
	require.True(t, ok)
	require.Equal(t, "second.sub", active.Name)
}

func TestEndToEndOverPipe(t *testing.T) {
	serverEnd, clientEnd := transport.NewPipe()

	src := make([]byte, 3*ChunkSize+11)
	rand.New(rand.NewSource(7)).Read(src)

	sender, err := NewSender(WithProvider(func(fileType FileType, name string) ([]byte, error) {
		if name != "typhon.sub" {
			return nil, errors.New("no such file")
		}
		return src, nil
	}))
	require.NoError(t, err)

	var finished *InTransfer
	recv, err := NewReceiver(clientEnd, WithOnFinished(func(tr *InTransfer) { finished = tr }))
	require.NoError(t, err)

	require.NoError(t, recv.Request(TypeSubmarine, "typhon.sub", ContentHash(src)))

	now := time.Now()
	deadline := now.Add(3 * time.Second)
	for finished == nil && time.Now().Before(deadline) {
		for {
			payload, ok := serverEnd.Poll()
			if !ok {
				break
			}
			r, class := wire.NewReader(payload)
			require.Equal(t, wire.ClassFileTransfer, class)
			require.NoError(t, sender.HandlePacket(serverEnd, r))
		}
		sender.Update()
		for {
			payload, ok := clientEnd.Poll()
			if !ok {
				break
			}
			r, class := wire.NewReader(payload)
			require.Equal(t, wire.ClassFileTransfer, class)
			require.NoError(t, recv.HandlePacket(r, time.Now()))
		}
		time.Sleep(time.Millisecond)
	}

	require.NotNil(t, finished, "transfer never completed")
	require.True(t, bytes.Equal(src, finished.Bytes()))
	require.Equal(t, 0, sender.ActiveCount())
}

func TestSenderChannelExhaustion(t *testing.T) {
	conn, _ := transport.NewPipe()
	sender, err := NewSender()
	require.NoError(t, err)

	for i := 0; i < ChannelCount; i++ {
		_, err := sender.Start(conn, TypeSave, "file", make([]byte, 10*ChunkSize))
		require.NoError(t, err)
	}
	_, err = sender.Start(conn, TypeSave, "overflow", make([]byte, 10))
	require.ErrorIs(t, err, ErrNoFreeChannel)

	// cancelling a lane frees it for a new transfer
	sender.Cancel(conn, 2)
	_, err = sender.Start(conn, TypeSave, "fits now", make([]byte, 10))
	require.NoError(t, err)
}
