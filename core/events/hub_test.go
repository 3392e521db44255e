package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHub_FanOut(t *testing.T) {
	hub := NewHub(HubConfig{})
	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Publish(FileModified{Path: "a.md"})

	assert.Equal(t, FileModified{Path: "a.md"}, receive(t, a))
	assert.Equal(t, FileModified{Path: "a.md"}, receive(t, b))
}

func TestHub_NoReplayForLateSubscribers(t *testing.T) {
	hub := NewHub(HubConfig{})
	hub.Publish(FileCreated{Path: "early.md"})

	sub := hub.Subscribe()
	hub.Publish(FileCreated{Path: "late.md"})

	assert.Equal(t, FileCreated{Path: "late.md"}, receive(t, sub))
}

func TestHub_OrderPreservedPerSubscriber(t *testing.T) {
	hub := NewHub(HubConfig{BufferSize: 1000})
	sub := hub.Subscribe()

	for i := 0; i < 200; i++ {
		hub.Publish(FileModified{Path: fmt.Sprintf("%03d.md", i)})
	}
	for i := 0; i < 200; i++ {
		assert.Equal(t, FileModified{Path: fmt.Sprintf("%03d.md", i)}, receive(t, sub))
	}
}

func TestHub_SameOrderAcrossSubscribers(t *testing.T) {
	hub := NewHub(HubConfig{BufferSize: 1000})
	a := hub.Subscribe()
	b := hub.Subscribe()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hub.Publish(FileModified{Path: fmt.Sprintf("w%d-%d.md", w, i)})
			}
		}(w)
	}
	wg.Wait()

	for i := 0; i < 200; i++ {
		assert.Equal(t, receive(t, a), receive(t, b))
	}
}

func TestHub_LaggingSubscriberDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(HubConfig{BufferSize: 2})
	slow := hub.Subscribe()
	fast := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			hub.Publish(FileModified{Path: fmt.Sprintf("%d.md", i)})
			<-fast.Events()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, FileModified{Path: "0.md"}, receive(t, slow))
	assert.Equal(t, FileModified{Path: "1.md"}, receive(t, slow))
}

func TestHub_SubscriptionClose(t *testing.T) {
	hub := NewHub(HubConfig{})
	sub := hub.Subscribe()
	require.Equal(t, 1, hub.Subscribers())

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, hub.Subscribers())
	_, ok := <-sub.Events()
	assert.False(t, ok)

	assert.NotPanics(t, func() { hub.Publish(FileDeleted{Path: "a.md"}) })
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(HubConfig{})
	sub := hub.Subscribe()

	hub.Close()
	hub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	late := hub.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)
	assert.NotPanics(t, func() { late.Close() })
}

func TestHub_PublishNil(t *testing.T) {
	hub := NewHub(HubConfig{})
	sub := hub.Subscribe()

	hub.Publish(nil)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}
