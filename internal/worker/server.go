package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/config"
)

// RedisOpt converts the shared Redis settings into asynq's connection
// options.
func RedisOpt(rc config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, TLSConfig: rc.TLS}
}

// Runner owns the asynq server and scheduler.
type Runner struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	handlers  *Handlers
	checkout  config.CheckoutConfig
	log       *zap.Logger
}

// NewRunner builds a server for handlers and a scheduler that enqueues the
// periodic jobs at the configured intervals.
func NewRunner(opt asynq.RedisClientOpt, handlers *Handlers, cc config.CheckoutConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
		},
		Logger:          log.Sugar(),
		ShutdownTimeout: 10 * time.Second,
	})
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger:   log.Sugar(),
		Location: time.UTC,
	})
	return &Runner{srv: srv, scheduler: scheduler, handlers: handlers, checkout: cc, log: log}
}

// every renders an asynq cron spec for interval d.
func every(d time.Duration) string { return fmt.Sprintf("@every %s", d) }

// Register adds the periodic jobs to the scheduler.
func (r *Runner) Register() error {
	sweep, err := NewSweepTask(SweepPayload{Limit: r.checkout.SweepBatch})
	if err != nil {
		return err
	}
	reconcile, err := NewReconcileTask(ReconcilePayload{OlderThan: r.checkout.ReconcileAfter, Limit: r.checkout.ReconcileBatch})
	if err != nil {
		return err
	}
	refunds, err := NewRefundRetryTask(RefundRetryPayload{Limit: r.checkout.RefundRetryBatch})
	if err != nil {
		return err
	}
	jobs := []struct {
		spec string
		task *asynq.Task
		opts []asynq.Option
	}{
		{every(r.checkout.SweepInterval), sweep, []asynq.Option{asynq.Queue("critical"), asynq.Unique(r.checkout.SweepInterval)}},
		{every(r.checkout.ReconcileInterval), reconcile, []asynq.Option{asynq.Queue("default"), asynq.Unique(r.checkout.ReconcileInterval)}},
		{every(r.checkout.ReconcileInterval), refunds, []asynq.Option{asynq.Queue("default"), asynq.Unique(r.checkout.ReconcileInterval)}},
	}
	for _, j := range jobs {
		id, err := r.scheduler.Register(j.spec, j.task, j.opts...)
		if err != nil {
			return fmt.Errorf("register %s: %w", j.task.Type(), err)
		}
		r.log.Info("scheduled job", zap.String("type", j.task.Type()), zap.String("spec", j.spec), zap.String("entry_id", id))
	}
	return nil
}

// Start runs the server and scheduler in the background.
func (r *Runner) Start() error {
	if err := r.Register(); err != nil {
		return err
	}
	if err := r.srv.Start(r.handlers.Mux()); err != nil {
		return fmt.Errorf("start worker server: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.srv.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler first so no new jobs are enqueued, then
// waits for running tasks.
func (r *Runner) Shutdown() {
	r.scheduler.Shutdown()
	r.srv.Shutdown()
}

// Enqueuer lets the API trigger jobs immediately.
type Enqueuer struct {
	client   *asynq.Client
	checkout config.CheckoutConfig
}

// NewEnqueuer returns an Enqueuer over a new asynq client.
func NewEnqueuer(opt asynq.RedisClientOpt, cc config.CheckoutConfig) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(opt), checkout: cc}
}

// Close releases the client.
func (e *Enqueuer) Close() error { return e.client.Close() }

// EnqueueSweep schedules an immediate expiry sweep.  A sweep already
// waiting in the queue is not duplicated.
func (e *Enqueuer) EnqueueSweep(ctx context.Context) (string, error) {
	t, err := NewSweepTask(SweepPayload{Limit: e.checkout.SweepBatch})
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, t, asynq.Queue("critical"))
}

// EnqueueReconcile schedules an immediate reconciliation run.
func (e *Enqueuer) EnqueueReconcile(ctx context.Context, olderThan time.Duration) (string, error) {
	if olderThan <= 0 {
		olderThan = e.checkout.ReconcileAfter
	}
	t, err := NewReconcileTask(ReconcilePayload{OlderThan: olderThan, Limit: e.checkout.ReconcileBatch})
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, t, asynq.Queue("default"))
}

func (e *Enqueuer) enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (string, error) {
	opts = append(opts, asynq.Unique(30*time.Second))
	info, err := e.client.EnqueueContext(ctx, t, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.ID, nil
}
