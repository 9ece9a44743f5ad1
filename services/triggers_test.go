package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"tls_portal_go/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTriggers(t *testing.T) {
	client := &models.Client{ID: "client-1"}

	t.Run("Handlers run in order and independently", func(t *testing.T) {
		tr := NewTriggers(zap.NewNop(), false)
		var order []string
		tr.On(ClientCreated, "first", func(ctx context.Context, ev ClientEvent) error {
			order = append(order, "first")
			return errors.New("first failed")
		})
		tr.On(ClientCreated, "second", func(ctx context.Context, ev ClientEvent) error {
			order = append(order, "second")
			return nil
		})
		tr.On(ClientDeleted, "other", func(ctx context.Context, ev ClientEvent) error {
			order = append(order, "other")
			return nil
		})

		err := tr.Fire(context.Background(), ClientCreated, ClientEvent{Client: client})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "first: first failed")
		assert.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("Panics are contained", func(t *testing.T) {
		tr := NewTriggers(zap.NewNop(), false)
		ran := false
		tr.On(ClientUpdated, "panics", func(ctx context.Context, ev ClientEvent) error {
			panic("nil map")
		})
		tr.On(ClientUpdated, "after", func(ctx context.Context, ev ClientEvent) error {
			ran = true
			return nil
		})

		err := tr.Fire(context.Background(), ClientUpdated, ClientEvent{Client: client})
		assert.ErrorContains(t, err, "panicked")
		assert.True(t, ran)
	})

	t.Run("Async dispatch survives request cancellation", func(t *testing.T) {
		tr := NewTriggers(zap.NewNop(), true)
		var calls int32
		tr.On(ClientCreated, "count", func(ctx context.Context, ev ClientEvent) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			atomic.AddInt32(&calls, 1)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		assert.NoError(t, tr.Fire(ctx, ClientCreated, ClientEvent{Client: client}))
		cancel()
		tr.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}
