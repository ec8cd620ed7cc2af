package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// AuditConsumer listens to order.events and appends one line per event to
// an audit log file.
type AuditConsumer struct {
    url  string
    path string
    log  *zap.Logger
    mu   sync.Mutex
}

// NewAuditConsumer returns a consumer writing to path (logs/orders.log when
// empty).
func NewAuditConsumer(url, path string, log *zap.Logger) *AuditConsumer {
    if path == "" {
        path = filepath.Join("logs", "orders.log")
    }
    if log == nil {
        log = zap.NewNop()
    }
    return &AuditConsumer{url: url, path: path, log: log}
}

// Run connects, consumes and reconnects with backoff until ctx is done.
// Offending messages are rejected without requeue so the loop keeps going.
func (c *AuditConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.log.Warn("audit-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.log.Warn("audit-consumer: consume loop ended; reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func (c *AuditConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.log.Warn("audit-consumer: set QoS failed", zap.Error(err))
    }
    if _, err := ch.QueueDeclare(OrderEventsQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(OrderEventsQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.HandleMessage(d.Body); err != nil {
                c.log.Warn("audit-consumer: handle message failed", zap.Error(err))
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// HandleMessage decodes one delivery body and appends it to the audit log.
func (c *AuditConsumer) HandleMessage(body []byte) error {
    var ev OrderEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" {
        return errors.New("event without type")
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(FormatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatLine renders ev as one human-friendly log line.
func FormatLine(ev OrderEvent) string {
    line := fmt.Sprintf("[%s] %s | reservation_id=%s | buyer_id=%d | event_id=%d | ticket_type_id=%d | qty=%d | amount=%d %s",
        ev.OccurredAt, ev.Type, ev.ReservationID, ev.BuyerID, ev.EventID, ev.TicketTypeID, ev.Quantity, ev.AmountCents, ev.Currency)
    if ev.OrderID != "" {
        line += " | order_id=" + ev.OrderID
    }
    if ev.PaymentRef != "" {
        line += " | payment_ref=" + ev.PaymentRef
    }
    if ev.Reason != "" {
        line += fmt.Sprintf(" | reason=%q", ev.Reason)
    }
    return line + "\n"
}
