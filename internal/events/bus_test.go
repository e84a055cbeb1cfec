package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Charitha2009/chronicle/internal/domain"
)

func recv(t *testing.T, ch <-chan domain.Event) (domain.Event, bool) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		return evt, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on subscriber channel")
		return domain.Event{}, false
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	a, cancelA, err := bus.Subscribe(ctx, "ABC123")
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := bus.Subscribe(ctx, "ABC123")
	require.NoError(t, err)
	defer cancelB()
	other, cancelOther, err := bus.Subscribe(ctx, "ZZZ999")
	require.NoError(t, err)
	defer cancelOther()
	assert.Equal(t, 2, bus.Subscribers("ABC123"))

	require.NoError(t, bus.Publish(ctx, domain.Event{ID: 7, CampaignCode: "ABC123", Type: "turn.created"}))

	for _, ch := range []<-chan domain.Event{a, b} {
		evt, ok := recv(t, ch)
		require.True(t, ok)
		assert.Equal(t, int64(7), evt.ID)
	}
	select {
	case evt := <-other:
		t.Fatalf("unexpected delivery to other campaign: %+v", evt)
	default:
	}
}

func TestMemoryBusCancelClosesChannel(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel, err := bus.Subscribe(context.Background(), "ABC123")
	require.NoError(t, err)

	cancel()
	cancel()
	_, ok := recv(t, ch)
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers("ABC123"))

	require.NoError(t, bus.Publish(context.Background(), domain.Event{CampaignCode: "ABC123"}))
}

func TestMemoryBusContextEndsSubscription(t *testing.T) {
	bus := NewMemoryBus()
	ctx, stop := context.WithCancel(context.Background())
	ch, _, err := bus.Subscribe(ctx, "ABC123")
	require.NoError(t, err)

	stop()
	_, ok := recv(t, ch)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return bus.Subscribers("ABC123") == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryBusCancelAfterClose(t *testing.T) {
	bus := NewMemoryBus()
	ctx, stop := context.WithCancel(context.Background())
	ch, cancel, err := bus.Subscribe(ctx, "ABC123")
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	_, ok := recv(t, ch)
	assert.False(t, ok)

	assert.NotPanics(t, cancel)
	assert.NotPanics(t, stop)
	assert.NoError(t, bus.Publish(context.Background(), domain.Event{CampaignCode: "ABC123"}))

	_, _, err = bus.Subscribe(context.Background(), "ABC123")
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMemoryBusPublishRacesCancel(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()
	// nobody drains the channels; a done context keeps full sends from waiting
	pubCtx, stop := context.WithCancel(ctx)
	stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		_, cancel, err := bus.Subscribe(ctx, "ABC123")
		require.NoError(t, err)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = bus.Publish(pubCtx, domain.Event{ID: int64(j), CampaignCode: "ABC123"})
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	assert.NotPanics(t, func() { wg.Wait() })
	assert.Equal(t, 0, bus.Subscribers("ABC123"))
}
