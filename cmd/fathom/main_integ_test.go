//go:build integration

package main_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"fathom/internal/app/apps"
	"fathom/internal/app/cfg"

	"github.com/stretchr/testify/require"
)

const testAddr = "127.0.0.1:39555"

func TestClientServerOverUDP(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s, err := apps.NewServerApp(cfg.NewAddrCfg(testAddr))
		require.NoError(t, err)
		require.NoError(t, s.Run(ctx, nil))
	}()
	go func() {
		defer wg.Done()
		time.Sleep(500 * time.Millisecond)
		c, err := apps.NewClientApp(cfg.NewAddrCfg(testAddr), cfg.NewNameCfg("alice"))
		require.NoError(t, err)
		require.NoError(t, c.Run(ctx, []string{"hello from the integration test"}))
		cancel()
	}()
	wg.Wait()
}
