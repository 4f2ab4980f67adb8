package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
)

func TestNewTask_EncodesTypeAndPayload(t *testing.T) {
	t.Parallel()

	task, err := NewTask(NewWelcome(Welcome{To: "a@x.com", Name: "Ada"}))
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if task.Type() != TaskWelcome {
		t.Fatalf("Type() = %q, want %q", task.Type(), TaskWelcome)
	}

	if _, err := NewTask(Message{Kind: KindWelcome}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("NewTask(invalid) = %v, want ErrInvalidMessage", err)
	}
}

func TestWorker_HandleDeliversTask(t *testing.T) {
	t.Parallel()

	s := &recordingSender{}
	w := &Worker{log: testLogger(), sender: s}

	task, err := NewTask(NewTicketConfirmation(TicketConfirmation{To: "a@x.com", Reference: "REF-1"}))
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if err := w.handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	tickets, _, _ := s.counts()
	if tickets != 1 || s.tickets[0].Reference != "REF-1" {
		t.Fatalf("delivered = %+v", s.tickets)
	}
}

func TestWorker_HandleSkipsRetryOnBadPayload(t *testing.T) {
	t.Parallel()

	w := &Worker{log: testLogger(), sender: &recordingSender{}}

	err := w.handle(context.Background(), asynq.NewTask(TaskWelcome, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("handle = %v, want SkipRetry", err)
	}
}

func TestWorker_HandlePropagatesSendError(t *testing.T) {
	t.Parallel()

	w := &Worker{log: testLogger(), sender: &recordingSender{failN: 1}}
	task, _ := NewTask(NewWelcome(Welcome{To: "a@x.com"}))

	if err := w.handle(context.Background(), task); !errors.Is(err, errSendFailed) {
		t.Fatalf("handle = %v, want send error for asynq retry", err)
	}
}
