package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docstash/docstash/internal/doccache"
)

type fakeRunner struct {
	calls   atomic.Int32
	err     error
	timeout atomic.Bool
}

func (r *fakeRunner) RunPass(ctx context.Context) (doccache.PassSummary, error) {
	r.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		r.timeout.Store(true)
	}
	if r.err != nil {
		return doccache.PassSummary{}, r.err
	}
	return doccache.PassSummary{PassID: "pass-1", Selected: 2, Cached: 2}, nil
}

func TestNewRegistersCronEntry(t *testing.T) {
	t.Parallel()

	s, err := New(&fakeRunner{}, Config{CronSpec: "*/10 * * * *", PassTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, s.Entries())
}

func TestNewRejectsBadCronSpec(t *testing.T) {
	t.Parallel()

	_, err := New(&fakeRunner{}, Config{CronSpec: "not a cron spec"}, zap.NewNop())
	require.Error(t, err)
}

func TestRunOnceRunsPassWithDeadline(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s, err := New(runner, Config{CronSpec: "*/10 * * * *", PassTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	s.RunOnce()
	require.Equal(t, int32(1), runner.calls.Load())
	require.True(t, runner.timeout.Load())
}

func TestRunOnceSwallowsPassErrors(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("select candidates: connection lost")}
	s, err := New(runner, Config{CronSpec: "*/10 * * * *", PassTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	// Must not panic or propagate; the next trigger is the retry.
	s.RunOnce()
	require.Equal(t, int32(1), runner.calls.Load())
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s, err := New(&fakeRunner{}, Config{CronSpec: "*/10 * * * *", PassTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	s.Stop()
}
