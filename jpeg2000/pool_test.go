package jpeg2000

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllItems(t *testing.T) {
	p := NewPool(4)
	var count int64
	err := p.Run(context.Background(), 100, func(i int) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), count)
}

func TestPoolPropagatesError(t *testing.T) {
	p := NewPool(2)
	sentinel := errors.New("boom")
	err := p.Run(context.Background(), 50, func(i int) error {
		if i == 7 {
			return sentinel
		}
		return nil
	})
	require.ErrorIs(t, err, sentinel)
}

func TestPoolHonorsCancellation(t *testing.T) {
	p := NewPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Run(ctx, 10, func(i int) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestPoolSerialFallback(t *testing.T) {
	p := NewPool(1)
	var order []int
	err := p.Run(context.Background(), 5, func(i int) error {
		order = append(order, i)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
