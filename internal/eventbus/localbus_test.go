package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalBus_PublishSubscribeFanOut(t *testing.T) {
	b := NewLocalBus()
	defer b.Close()

	var mu sync.Mutex
	var gotA, gotB []string

	unsubA := b.Subscribe(SubjectModelLoaded, func(e Event) {
		mu.Lock()
		gotA = append(gotA, string(e.Payload))
		mu.Unlock()
	})
	defer unsubA()
	unsubB := b.Subscribe(SubjectModelLoaded, func(e Event) {
		mu.Lock()
		gotB = append(gotB, string(e.Payload))
		mu.Unlock()
	})
	defer unsubB()

	require.NoError(t, b.Publish(SubjectModelLoaded, ModelLoadedPayload{Name: "m", VRAMMB: 100}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 1 && len(gotB) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLocalBus_SlowSubscriberDoesNotBlockFastOne(t *testing.T) {
	b := NewLocalBus()
	defer b.Close()

	block := make(chan struct{})
	var fastCount int
	var mu sync.Mutex

	unsubSlow := b.Subscribe(SubjectMemoryPressure, func(e Event) {
		<-block
	})
	defer unsubSlow()
	unsubFast := b.Subscribe(SubjectMemoryPressure, func(e Event) {
		mu.Lock()
		fastCount++
		mu.Unlock()
	})
	defer unsubFast()

	require.NoError(t, b.Publish(SubjectMemoryPressure, MemoryPressurePayload{UsagePct: 95}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fastCount == 1
	}, time.Second, 5*time.Millisecond)
	close(block)
}

func TestEventRing_DropsOldestOnOverflow(t *testing.T) {
	r := newEventRing(2)
	r.push(Event{Subject: "s", Payload: []byte("1")})
	r.push(Event{Subject: "s", Payload: []byte("2")})
	r.push(Event{Subject: "s", Payload: []byte("3")})

	first, ok := r.pop()
	require.True(t, ok)
	require.Equal(t, "2", string(first.Payload))

	second, ok := r.pop()
	require.True(t, ok)
	require.Equal(t, "3", string(second.Payload))

	_, ok = r.pop()
	require.False(t, ok)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := NewLocalBus()
	defer b.Close()

	var count int
	var mu sync.Mutex
	unsub := b.Subscribe(SubjectModelLoaded, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, b.Publish(SubjectModelLoaded, ModelLoadedPayload{Name: "a"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	unsub()
	require.NoError(t, b.Publish(SubjectModelLoaded, ModelLoadedPayload{Name: "b"}))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}
