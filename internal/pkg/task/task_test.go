package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForPredicate(t *testing.T) {
	s := NewScheduler()
	flag := false
	fired := 0
	h := s.WaitForPredicate(func() bool { return flag }, func() { fired++ })

	now := time.Now()
	s.Update(now)
	require.False(t, h.Done())

	flag = true
	s.Update(now)
	require.True(t, h.Done())
	require.Equal(t, 1, fired)

	// already resolved, callback must not run again
	s.Update(now)
	require.Equal(t, 1, fired)
	require.Equal(t, 0, s.Pending())
}

func TestWaitForDuration(t *testing.T) {
	s := NewScheduler()
	start := time.Now()
	h := s.WaitForDuration(10*time.Second, start, nil)

	s.Update(start.Add(9 * time.Second))
	require.False(t, h.Done())

	s.Update(start.Add(10 * time.Second))
	require.True(t, h.Done())
}
