package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPoolReuse(t *testing.T) {
	require := require.New(t)

	timer := GetTimer(10 * time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	PutTimer(timer)

	// a reused timer must fire again with the new duration
	timer = GetTimer(10 * time.Millisecond)
	start := time.Now()
	select {
	case <-timer.C:
		require.WithinDuration(start.Add(10*time.Millisecond), time.Now(), 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("reused timer did not fire")
	}
	PutTimer(timer)
}

func TestTimerPoolPutActive(t *testing.T) {
	// returning an unexpired timer must not leak a stale tick to the next user
	timer := GetTimer(time.Hour)
	PutTimer(timer)

	timer = GetTimer(5 * time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer with pending state did not fire cleanly")
	}
	PutTimer(timer)
}
