package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender records deliveries and can fail the first N calls.
type recordingSender struct {
	mu       sync.Mutex
	tickets  []TicketConfirmation
	welcomes []Welcome
	calls    int
	failN    int
	panicN   int
	block    chan struct{}
}

var errSendFailed = errors.New("send failed")

func (s *recordingSender) gate() error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.panicN {
		panic("boom")
	}
	if s.calls <= s.panicN+s.failN {
		return errSendFailed
	}
	return nil
}

func (s *recordingSender) SendTicketConfirmation(_ context.Context, tc TicketConfirmation) error {
	if err := s.gate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tickets = append(s.tickets, tc)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) SendWelcome(_ context.Context, w Welcome) error {
	if err := s.gate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.welcomes = append(s.welcomes, w)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) counts() (tickets, welcomes, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets), len(s.welcomes), s.calls
}
