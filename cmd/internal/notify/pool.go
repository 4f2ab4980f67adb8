package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolConfig controls the in-process dispatcher.
type PoolConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	// Backoff is the first retry delay; it doubles per attempt with up to 50% jitter.
	Backoff     time.Duration
	SendTimeout time.Duration

	// Registerer receives the notifications counter when non-nil.
	Registerer prometheus.Registerer
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

// Pool is a bounded background executor for notifications.
//
// Design notes:
// - Enqueue never blocks: a full queue drops the message with ErrQueueFull.
// - Each delivery runs under recover so one bad sender call cannot kill a worker.
// - Close stops intake, drains queued messages, and aborts retry sleeps when ctx expires.
type Pool struct {
	log    *slog.Logger
	sender Sender
	cfg    PoolConfig

	mu     sync.RWMutex
	closed bool
	queue  chan Message

	abort     chan struct{}
	abortOnce sync.Once
	wg        sync.WaitGroup

	sent *prometheus.CounterVec
}

// NewPool starts cfg.Workers workers delivering through sender.
func NewPool(log *slog.Logger, sender Sender, cfg PoolConfig) (*Pool, error) {
	if sender == nil {
		return nil, fmt.Errorf("notify: nil sender")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	p := &Pool{
		log:    log,
		sender: sender,
		cfg:    cfg,
		queue:  make(chan Message, cfg.QueueSize),
		abort:  make(chan struct{}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketpay_notifications_total",
			Help: "Notification deliveries by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(p.sent); err != nil {
			return nil, fmt.Errorf("notify: register metrics: %w", err)
		}
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

// Enqueue hands msg to a worker without waiting for delivery.
func (p *Pool) Enqueue(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		p.sent.WithLabelValues(string(msg.Kind), "dropped").Inc()
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to finish or ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.abortOnce.Do(func() { close(p.abort) })
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.deliver(msg)
	}
}

func (p *Pool) deliver(msg Message) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 && !p.sleep(p.backoff(attempt)) {
			break
		}

		lastErr = p.attempt(msg)
		if lastErr == nil {
			p.sent.WithLabelValues(string(msg.Kind), "sent").Inc()
			p.log.Debug("notify.send.ok", "kind", msg.Kind, "to", msg.Recipient(), "attempt", attempt)
			return
		}
		p.log.Warn("notify.send.retry", "kind", msg.Kind, "to", msg.Recipient(), "attempt", attempt, "err", lastErr)
	}

	p.sent.WithLabelValues(string(msg.Kind), "failed").Inc()
	p.log.Error("notify.send.fail", "kind", msg.Kind, "to", msg.Recipient(), "err", lastErr)
}

func (p *Pool) attempt(msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: sender panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
	defer cancel()
	return Deliver(ctx, p.sender, msg)
}

// backoff returns the delay before attempt n (n >= 2).
func (p *Pool) backoff(n int) time.Duration {
	d := p.cfg.Backoff << (n - 2)
	return d + time.Duration(rand.Int64N(int64(d)/2+1))
}

// sleep waits d or until Close gives up; it reports whether to continue.
func (p *Pool) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.abort:
		return false
	}
}
