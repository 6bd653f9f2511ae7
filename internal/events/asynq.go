package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/gym-payments/internal/obs"
)

// TaskTypePaymentEvent is the asynq task type carrying a forwarded event.
const TaskTypePaymentEvent = "payment:event"

// TaskEnqueuer is the subset of *asynq.Client the scheduler needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqScheduler enqueues forwarded events for the worker process. The event
// id doubles as task id so a repeated Schedule is a no-op.
type AsynqScheduler struct {
	Client   TaskEnqueuer
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Schedule implements DeliveryScheduler.
func (s AsynqScheduler) Schedule(ctx context.Context, ev Event) error {
	if s.Client == nil || !Forwarded(ev.Topic) {
		return nil
	}
	task, err := NewEventTask(ev)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID)}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	if s.Timeout > 0 {
		opts = append(opts, asynq.Timeout(s.Timeout))
	}
	_, err = s.Client.EnqueueContext(ctx, task, opts...)
	switch {
	case err == nil:
		countDelivery(ev.Topic, "enqueued")
		return nil
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		countDelivery(ev.Topic, "duplicate")
		return nil
	default:
		countDelivery(ev.Topic, "enqueue_failed")
		return fmt.Errorf("enqueue %s: %w", ev.Topic, err)
	}
}

// NewEventTask wraps an event in an asynq task.
func NewEventTask(ev Event) (*asynq.Task, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePaymentEvent, body), nil
}

// ParseEventTask decodes a task produced by NewEventTask.
func ParseEventTask(task *asynq.Task) (Event, error) {
	if task == nil || task.Type() != TaskTypePaymentEvent {
		return Event{}, errors.New("events: unexpected task type")
	}
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return Event{}, fmt.Errorf("events: decode task: %w", err)
	}
	if ev.ID == "" || ev.Topic == "" {
		return Event{}, errors.New("events: task missing id or topic")
	}
	return ev, nil
}

// DeliveryHandler processes forwarded event tasks in the worker. Malformed
// tasks are not retried; notifier failures are, with asynq's backoff.
type DeliveryHandler struct {
	Notifiers []Notifier
}

// ProcessTask implements asynq.Handler.
func (h DeliveryHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ev, err := ParseEventTask(task)
	if err != nil {
		countDelivery("invalid", "rejected")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	var joined error
	for _, n := range h.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	if joined != nil {
		countDelivery(ev.Topic, "failed")
		return joined
	}
	countDelivery(ev.Topic, "delivered")
	return nil
}

func countDelivery(topic, result string) {
	if obs.EventDeliveriesTotal != nil {
		obs.EventDeliveriesTotal.WithLabelValues(topic, result).Inc()
	}
}
