package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Task types and queue name used on Redis.
const (
	TaskTicketConfirmation = "notify:ticket_confirmation"
	TaskWelcome            = "notify:welcome"
	QueueName              = "notifications"
)

func taskType(k Kind) string {
	if k == KindWelcome {
		return TaskWelcome
	}
	return TaskTicketConfirmation
}

// QueueDispatcher enqueues messages as asynq tasks.
type QueueDispatcher struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
}

// NewQueueDispatcher constructs a dispatcher over the given Redis connection.
func NewQueueDispatcher(redis asynq.RedisConnOpt, maxRetry int) *QueueDispatcher {
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return &QueueDispatcher{
		client:   asynq.NewClient(redis),
		maxRetry: maxRetry,
		timeout:  30 * time.Second,
	}
}

// NewTask encodes msg as an asynq task.
func NewTask(msg Message, opts ...asynq.Option) (*asynq.Task, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("notify: encode task: %w", err)
	}
	return asynq.NewTask(taskType(msg.Kind), payload, opts...), nil
}

// Enqueue writes msg to Redis. Delivery happens in a Worker.
func (d *QueueDispatcher) Enqueue(ctx context.Context, msg Message) error {
	task, err := NewTask(msg, asynq.MaxRetry(d.maxRetry), asynq.Queue(QueueName), asynq.Timeout(d.timeout))
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", task.Type(), err)
	}
	return nil
}

// Close releases the Redis client.
func (d *QueueDispatcher) Close(context.Context) error {
	return d.client.Close()
}

// Worker consumes notification tasks and delivers them through a Sender.
type Worker struct {
	log    *slog.Logger
	sender Sender
	srv    *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker constructs a Worker processing QueueName with the given concurrency.
func NewWorker(log *slog.Logger, redis asynq.RedisConnOpt, sender Sender, concurrency int) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	w := &Worker{log: log, sender: sender, mux: asynq.NewServeMux()}
	w.mux.HandleFunc(TaskTicketConfirmation, w.handle)
	w.mux.HandleFunc(TaskWelcome, w.handle)

	w.srv = asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      asynqLogger{log: log.With("component", "asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			log.Error("notify.task.fail", "type", t.Type(), "err", err)
		}),
	})
	return w
}

// Handler exposes the task mux (used by tests and embedding servers).
func (w *Worker) Handler() asynq.Handler { return w.mux }

// Start begins processing in background goroutines.
func (w *Worker) Start() error { return w.srv.Start(w.mux) }

// Shutdown waits for in-flight tasks and stops the server.
func (w *Worker) Shutdown() { w.srv.Shutdown() }

func (w *Worker) handle(ctx context.Context, t *asynq.Task) error {
	var msg Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("notify: decode task: %v: %w", err, asynq.SkipRetry)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := Deliver(ctx, w.sender, msg); err != nil {
		return err
	}
	w.log.Debug("notify.task.ok", "type", t.Type(), "to", msg.Recipient())
	return nil
}

// asynqLogger adapts slog to asynq.Logger.
type asynqLogger struct {
	log *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
