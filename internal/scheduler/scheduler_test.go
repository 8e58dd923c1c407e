package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorepin/lorepin/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls   atomic.Int32
	limit   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeRefresher) RefreshPendingVideos(ctx context.Context, limit int) (int, error) {
	f.calls.Add(1)
	f.limit.Store(int32(limit))
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 1, f.err
}

func TestNewVideoPollerRejectsBadSpec(t *testing.T) {
	t.Parallel()
	_, err := NewVideoPoller(&config.SchedulerConfig{VideoPollSpec: "every now and then"}, &fakeRefresher{})
	assert.Error(t, err)
}

func TestRunUsesBatch(t *testing.T) {
	t.Parallel()
	f := &fakeRefresher{}
	p, err := NewVideoPoller(&config.SchedulerConfig{VideoPollSpec: "@every 1m"}, f)
	require.NoError(t, err)

	p.Run(testContext(t))
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, int32(defaultBatch), f.limit.Load())

	f.err = errors.New("database gone")
	p.Run(testContext(t))
	assert.Equal(t, int32(2), f.calls.Load(), "a failed pass does not block later ones")
}

func TestRunSkipsOverlappingPasses(t *testing.T) {
	t.Parallel()
	f := &fakeRefresher{release: make(chan struct{})}
	p, err := NewVideoPoller(&config.SchedulerConfig{VideoPollSpec: "@every 1m", VideoPollBatch: 5}, f)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		p.Run(testContext(t))
		close(done)
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	p.Run(testContext(t))
	assert.Equal(t, int32(1), f.calls.Load())

	close(f.release)
	<-done
	assert.Equal(t, int32(5), f.limit.Load())
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	f := &fakeRefresher{}
	p, err := NewVideoPoller(&config.SchedulerConfig{VideoPollSpec: "@every 1s"}, f)
	require.NoError(t, err)

	p.Start()
	require.Eventually(t, func() bool { return f.calls.Load() > 0 }, 3*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(testContext(t), time.Second)
	defer cancel()
	p.Stop(ctx)
}
