package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-marketplace/internal/service"
)

type stubJobs struct {
	sweepLimit     int
	reconcileAfter time.Duration
	reconcileLimit int
	refundLimit    int
	err            error
}

func (s *stubJobs) SweepExpired(_ context.Context, limit int) (int, error) {
	s.sweepLimit = limit
	return 2, s.err
}

func (s *stubJobs) Reconcile(_ context.Context, olderThan time.Duration, limit int) (service.ReconcileReport, error) {
	s.reconcileAfter, s.reconcileLimit = olderThan, limit
	return service.ReconcileReport{Examined: 1}, s.err
}

func (s *stubJobs) RetryPending(_ context.Context, limit int) (int, error) {
	s.refundLimit = limit
	return 0, s.err
}

var testDefaults = Defaults{SweepBatch: 200, ReconcileAfter: 2 * time.Minute, ReconcileBatch: 100, RefundRetryBatch: 50}

func TestHandlers_PayloadOverridesDefaults(t *testing.T) {
	jobs := &stubJobs{}
	h := NewHandlers(jobs, jobs, jobs, testDefaults, nil)
	ctx := context.Background()

	sweep, err := NewSweepTask(SweepPayload{Limit: 5})
	require.NoError(t, err)
	require.NoError(t, h.HandleSweep(ctx, sweep))
	assert.Equal(t, 5, jobs.sweepLimit)

	rec, err := NewReconcileTask(ReconcilePayload{OlderThan: time.Hour, Limit: 7})
	require.NoError(t, err)
	require.NoError(t, h.HandleReconcile(ctx, rec))
	assert.Equal(t, time.Hour, jobs.reconcileAfter)
	assert.Equal(t, 7, jobs.reconcileLimit)

	rf, err := NewRefundRetryTask(RefundRetryPayload{Limit: 3})
	require.NoError(t, err)
	require.NoError(t, h.HandleRefundRetry(ctx, rf))
	assert.Equal(t, 3, jobs.refundLimit)
}

func TestHandlers_ZeroPayloadUsesDefaults(t *testing.T) {
	jobs := &stubJobs{}
	h := NewHandlers(jobs, jobs, jobs, testDefaults, nil)
	ctx := context.Background()

	require.NoError(t, h.HandleSweep(ctx, asynq.NewTask(TypeReservationSweep, nil)))
	assert.Equal(t, 200, jobs.sweepLimit)

	rec, err := NewReconcileTask(ReconcilePayload{})
	require.NoError(t, err)
	require.NoError(t, h.HandleReconcile(ctx, rec))
	assert.Equal(t, 2*time.Minute, jobs.reconcileAfter)
	assert.Equal(t, 100, jobs.reconcileLimit)

	require.NoError(t, h.HandleRefundRetry(ctx, asynq.NewTask(TypeRefundRetry, []byte(`{}`))))
	assert.Equal(t, 50, jobs.refundLimit)
}

func TestHandlers_BadPayloadIsNotRetried(t *testing.T) {
	jobs := &stubJobs{}
	h := NewHandlers(jobs, jobs, jobs, testDefaults, nil)

	err := h.HandleSweep(context.Background(), asynq.NewTask(TypeReservationSweep, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, jobs.sweepLimit)
}

func TestHandlers_PropagateServiceErrors(t *testing.T) {
	boom := errors.New("store down")
	jobs := &stubJobs{err: boom}
	h := NewHandlers(jobs, jobs, jobs, testDefaults, nil)

	assert.ErrorIs(t, h.HandleSweep(context.Background(), asynq.NewTask(TypeReservationSweep, nil)), boom)
	assert.ErrorIs(t, h.HandleReconcile(context.Background(), asynq.NewTask(TypeOrderReconcile, nil)), boom)
	assert.ErrorIs(t, h.HandleRefundRetry(context.Background(), asynq.NewTask(TypeRefundRetry, nil)), boom)
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 30s", every(30*time.Second))
	assert.Equal(t, "@every 1m0s", every(time.Minute))
}
