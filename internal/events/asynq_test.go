package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gym-payments/internal/events"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func TestAsynqSchedulerEnqueuesForwardedTopics(t *testing.T) {
	client := &fakeEnqueuer{}
	sched := events.AsynqScheduler{Client: client, Queue: "payments", MaxRetry: 5, Timeout: time.Minute}
	ev := events.Event{ID: "evt-1", Topic: events.TopicPaymentSucceeded, AggregateID: "a@example.com", Payload: []byte(`{"x":1}`), OccurredAt: time.Unix(100, 0).UTC()}

	require.NoError(t, sched.Schedule(context.Background(), ev))
	require.Len(t, client.tasks, 1)
	require.Equal(t, events.TaskTypePaymentEvent, client.tasks[0].Type())
	require.Len(t, client.opts[0], 4)

	decoded, err := events.ParseEventTask(client.tasks[0])
	require.NoError(t, err)
	require.Equal(t, ev.ID, decoded.ID)
	require.Equal(t, ev.Topic, decoded.Topic)
	require.JSONEq(t, `{"x":1}`, string(decoded.Payload))
}

func TestAsynqSchedulerSkipsLocalTopics(t *testing.T) {
	client := &fakeEnqueuer{}
	sched := events.AsynqScheduler{Client: client}
	require.NoError(t, sched.Schedule(context.Background(), events.Event{ID: "1", Topic: events.TopicPaymentInitiated}))
	require.Empty(t, client.tasks)
}

func TestAsynqSchedulerDuplicateIsNotAnError(t *testing.T) {
	sched := events.AsynqScheduler{Client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, sched.Schedule(context.Background(), events.Event{ID: "1", Topic: events.TopicPaymentFailed}))

	sched = events.AsynqScheduler{Client: &fakeEnqueuer{err: errors.New("redis down")}}
	require.ErrorContains(t, sched.Schedule(context.Background(), events.Event{ID: "1", Topic: events.TopicPaymentFailed}), "redis down")
}

func TestParseEventTaskRejectsForeignTasks(t *testing.T) {
	_, err := events.ParseEventTask(asynq.NewTask("other:type", []byte(`{}`)))
	require.Error(t, err)

	_, err = events.ParseEventTask(asynq.NewTask(events.TaskTypePaymentEvent, []byte(`{"topic":"payment.failed"}`)))
	require.Error(t, err)
}

func TestDeliveryHandlerProcessesTask(t *testing.T) {
	ev := events.Event{ID: "evt-9", Topic: events.TopicSubscriptionRenew, AggregateID: "a@example.com", Payload: []byte(`{}`)}
	task, err := events.NewEventTask(ev)
	require.NoError(t, err)

	capture := &captureNotifier{}
	require.NoError(t, events.DeliveryHandler{Notifiers: []events.Notifier{capture, nil}}.ProcessTask(context.Background(), task))
	require.Len(t, capture.events, 1)
	require.Equal(t, "evt-9", capture.events[0].ID)

	err = events.DeliveryHandler{Notifiers: []events.Notifier{failingNotifier{}}}.ProcessTask(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	err = events.DeliveryHandler{}.ProcessTask(context.Background(), asynq.NewTask(events.TaskTypePaymentEvent, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
