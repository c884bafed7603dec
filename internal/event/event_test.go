package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventNotifyAndWaitRendezvous(t *testing.T) {
	e := New[int]()
	received := make(chan int, 1)

	go func() {
		received <- e.Wait()
	}()

	done := make(chan struct{})
	go func() {
		e.NotifyAndWait(42)
		close(done)
	}()

	select {
	case v := <-received:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("consumer never received data")
	}

	e.Done()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer never unblocked after Done")
	}
}

func TestEventSerializesConcurrentProducers(t *testing.T) {
	e := New[int]()
	const producers = 8

	for i := 0; i < producers; i++ {
		go func(v int) {
			e.NotifyAndWait(v)
		}(i)
	}

	seen := make(map[int]bool)
	for i := 0; i < producers; i++ {
		v := e.Wait()
		require.False(t, seen[v], "value %d observed twice, producers were not serialized", v)
		seen[v] = true
		e.Done()
	}

	require.Len(t, seen, producers)
}

func TestEventWaitReturnsImmediatelyWhenDataAlreadyReady(t *testing.T) {
	e := New[string]()

	go e.NotifyAndWait("ready")
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, "ready", e.Wait())
	e.Done()
}
