package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ksred/payrelay/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunsHandlersInBackground(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{}, 2)

	d := NewDispatcher(4,
		func(_ context.Context, n reconcile.Notification) {
			panic("boom")
		},
		func(_ context.Context, n reconcile.Notification) {
			mu.Lock()
			seen = append(seen, n.Result.LocalOrderID)
			mu.Unlock()
			done <- struct{}{}
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	d.Notify(reconcile.Notification{Source: "webhook", Result: reconcile.Result{LocalOrderID: "local-1"}})
	d.Notify(reconcile.Notification{Source: "callback", Result: reconcile.Result{LocalOrderID: "local-2"}})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("notification was not dispatched")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"local-1", "local-2"}, seen)
}

func TestDispatcher_NotifyNeverBlocks(t *testing.T) {
	d := NewDispatcher(1)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(reconcile.Notification{Result: reconcile.Result{LocalOrderID: "local-1"}})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	require.Len(t, d.queue, 1)
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	d := NewDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
