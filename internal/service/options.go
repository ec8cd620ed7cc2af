package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/queue"
)

// EventPublisher receives order events after a transaction commits.
// Publishing is best effort; failures are logged and never undo the
// committed state.
type EventPublisher interface {
	Publish(ctx context.Context, evt queue.OrderEvent) error
}

// Option customizes a service.
type Option func(*options)

type options struct {
	now       func() time.Time
	log       *zap.Logger
	publisher EventPublisher
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithPublisher sets the order event publisher.
func WithPublisher(p EventPublisher) Option { return func(o *options) { o.publisher = p } }

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) clock() time.Time { return o.now().UTC() }

func (o options) publish(ctx context.Context, evt queue.OrderEvent) {
	if o.publisher == nil {
		return
	}
	if evt.OccurredAt == "" {
		evt.OccurredAt = o.clock().Format(time.RFC3339)
	}
	// detach from request cancellation; the state change already committed
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.publisher.Publish(pctx, evt); err != nil {
		o.log.Warn("order event not published", zap.String("type", evt.Type), zap.String("reservation_id", evt.ReservationID), zap.Error(err))
	}
}
