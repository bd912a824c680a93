package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/quill/internal/config"
)

type countingReconciler struct {
	calls atomic.Int32
	err   error
}

func (r *countingReconciler) Reconcile(context.Context) (int, error) {
	r.calls.Add(1)
	return 1, r.err
}

func TestScheduler_ReconcilesOnStartAndTick(t *testing.T) {
	r := &countingReconciler{}
	s := NewScheduler(&config.AutomationConfig{
		SupervisorInterval: 10 * time.Millisecond,
		ResumeOnStart:      true,
	}, zap.NewNop(), r)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	time.Sleep(30 * time.Millisecond)
	after := r.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, r.calls.Load(), "no reconcile after stop")
}

func TestScheduler_ErrorsDoNotStopTicking(t *testing.T) {
	r := &countingReconciler{err: errors.New("db down")}
	s := NewScheduler(&config.AutomationConfig{SupervisorInterval: 5 * time.Millisecond}, zap.NewNop(), r)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Stop()
}
