package oracle

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRequestRandomChargesFee(t *testing.T) {
	src := NewLocalSource(3, 7, 0, quietLogger())

	id1, err := src.RequestRandom(context.Background())
	require.NoError(t, err)
	id2, err := src.RequestRandom(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, int64(1), src.Credit())

	_, err = src.RequestRandom(context.Background())
	assert.ErrorIs(t, err, apperr.ErrInsufficientFee)
	assert.Equal(t, int64(1), src.Credit())

	src.TopUp(2)
	_, err = src.RequestRandom(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), src.Credit())
}

func TestRunDeliversEachRequestOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := NewLocalSource(1, 10, time.Millisecond, quietLogger())
	var (
		mu        sync.Mutex
		delivered = map[string][32]byte{}
		done      = make(chan struct{}, 2)
	)
	src.SetHandler(func(_ context.Context, id string, value [32]byte) error {
		mu.Lock()
		delivered[id] = value
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- src.Run(ctx) }()

	id1, err := src.RequestRandom(ctx)
	require.NoError(t, err)
	id2, err := src.RequestRandom(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("randomness was not delivered")
		}
	}
	cancel()
	require.NoError(t, <-stopped)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, delivered, 2)
	assert.Contains(t, delivered, id1)
	assert.Contains(t, delivered, id2)
	assert.NotEqual(t, delivered[id1], delivered[id2])
}

func TestRunStopsWhileWaiting(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := NewLocalSource(0, 0, time.Hour, quietLogger())
	src.SetHandler(func(context.Context, string, [32]byte) error {
		t.Error("delivery after cancel")
		return nil
	})
	_, err := src.RequestRandom(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- src.Run(ctx) }()
	cancel()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestUnknownRequestRefundsFee(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := NewLocalSource(4, 10, 0, quietLogger())
	done := make(chan struct{}, 1)
	src.SetHandler(func(context.Context, string, [32]byte) error {
		defer func() { done <- struct{}{} }()
		return apperr.ErrNotFound.WithMessage("randomness request not found")
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- src.Run(ctx) }()

	_, err := src.RequestRandom(ctx)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("randomness was not delivered")
	}
	cancel()
	require.NoError(t, <-stopped)
	assert.Equal(t, int64(10), src.Credit())
}

func TestFailedDeliveryKeepsFee(t *testing.T) {
	src := NewLocalSource(4, 10, 0, quietLogger())
	src.SetHandler(func(context.Context, string, [32]byte) error {
		return apperr.ErrWrongState
	})
	id, err := src.RequestRandom(context.Background())
	require.NoError(t, err)

	src.deliver(context.Background(), id)
	assert.Equal(t, int64(6), src.Credit())
}
