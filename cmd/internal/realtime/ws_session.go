package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ticketpay/cmd/internal/fulfillment"
	"ticketpay/cmd/internal/ratelimit"
	v1 "ticketpay/shared/contracts/payments/v1"

	"github.com/coder/websocket"
)

// session is one accepted connection.
type session struct {
	g      *WSGateway
	conn   *websocket.Conn
	client *Client
	limit  ratelimit.Limiter

	mu     sync.Mutex
	refs   map[string]struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newSession(parent context.Context, g *WSGateway, conn *websocket.Conn, id string) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		g:      g,
		conn:   conn,
		client: NewClient(id, g.cfg.SendQueue),
		refs:   make(map[string]struct{}),
		limit:  ratelimit.NewMemoryLimiter(g.cfg.RateEvents, g.cfg.RateWindow),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *session) id() string { return s.client.SessionID }

// close leaves every topic before closing the client so publishers never hit a
// half-closed member. It never closes client.Send.
func (s *session) close(code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		for ref := range s.refs {
			s.g.hub.Unsubscribe(ref, s.id())
		}
		s.refs = map[string]struct{}{}
		s.closed = true
		s.mu.Unlock()
		s.client.Close()
		_ = s.conn.Close(code, reason)
		s.cancel()
	})
}

func (s *session) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		s.heartbeatLoop()
	}()

	code, reason := s.readLoop()
	s.close(code, reason)
	<-writerDone
	select {
	case <-pingDone:
	case <-time.After(wsCloseGrace):
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.client.Done():
			return
		case env := <-s.client.Send:
			if err := writeEnvelope(s.ctx, s.conn, env, s.g.cfg.WriteTimeout); err != nil {
				s.g.log.Info("ws.write.fail", "session_id", s.id(), "close_status", websocket.CloseStatus(err), "err", err)
				s.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (s *session) heartbeatLoop() {
	t := time.NewTicker(s.g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.HeartbeatTimeout)
		err := s.conn.Ping(pctx)
		cancel()
		if err == nil {
			failures = 0
			continue
		}
		failures++
		s.g.log.Info("ws.ping.fail", "session_id", s.id(), "failures", failures, "err", err)
		if failures >= wsMaxPingFailures {
			s.close(websocket.StatusGoingAway, "heartbeat failed")
			return
		}
	}
}

// readLoop handles inbound frames until the connection ends and returns the close to send.
func (s *session) readLoop() (websocket.StatusCode, string) {
	for {
		rctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(rctx, s.conn)
		cancel()
		if err != nil {
			code, reason, fatal := closeFor(err)
			if fatal {
				if code == websocket.StatusAbnormalClosure {
					s.g.log.Info("ws.read.fail", "session_id", s.id(), "err", err)
				}
				return code, reason
			}
			s.send(errorEnvelope("bad_json", "invalid JSON"))
			continue
		}

		if d, _ := s.limit.Allow(s.ctx, s.id(), time.Now().UTC()); !d.Allowed {
			s.send(errorEnvelope("rate_limited", "too many events"))
			return websocket.StatusPolicyViolation, "rate limited"
		}

		if err := env.Validate(); err != nil {
			s.send(errorEnvelope("bad_envelope", err.Error()))
			continue
		}

		switch env.Type {
		case v1.TypeSubscribe:
			if err := s.subscribe(env); err != nil {
				s.send(errorEnvelope("subscribe_failed", err.Error()))
			}
		case v1.TypeUnsubscribe:
			if err := s.unsubscribe(env); err != nil {
				s.send(errorEnvelope("unsubscribe_failed", err.Error()))
			}
		default:
			s.send(errorEnvelope("unsupported", "unsupported type: "+env.Type))
		}
	}
}

func (s *session) send(env v1.Envelope) bool {
	if s.ctx.Err() != nil {
		return false
	}
	return s.client.offer(env)
}

func referenceOf(env v1.Envelope) (string, error) {
	var p v1.SubscribePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	ref := strings.TrimSpace(p.Reference)
	switch {
	case ref == "":
		return "", errors.New("missing reference")
	case len(ref) > maxReferenceLen:
		return "", fmt.Errorf("reference too long: max=%d", maxReferenceLen)
	}
	return ref, nil
}

func (s *session) subscribe(env v1.Envelope) error {
	ref, err := referenceOf(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session closed")
	}
	if _, ok := s.refs[ref]; !ok {
		if len(s.refs) >= maxSubscriptionsPerConn {
			s.mu.Unlock()
			return fmt.Errorf("too many subscriptions: max=%d", maxSubscriptionsPerConn)
		}
		s.refs[ref] = struct{}{}
		s.g.hub.Subscribe(ref, s.client)
	}
	s.mu.Unlock()

	if !s.send(ackEnvelope(v1.TypeSubscribed, ref, s.id())) {
		s.leave(ref)
		return errors.New("backpressure: subscribed")
	}
	s.snapshot(ref)
	return nil
}

func (s *session) unsubscribe(env v1.Envelope) error {
	ref, err := referenceOf(env)
	if err != nil {
		return err
	}
	s.leave(ref)
	if !s.send(ackEnvelope(v1.TypeUnsubscribed, ref, s.id())) {
		return errors.New("backpressure: unsubscribed")
	}
	return nil
}

func (s *session) leave(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[ref]; ok {
		delete(s.refs, ref)
		s.g.hub.Unsubscribe(ref, s.id())
	}
}

// snapshot pushes the stored status so a late subscriber does not wait for the next event.
func (s *session) snapshot(ref string) {
	if s.g.lookup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, snapshotTimeout)
	defer cancel()

	out, err := s.g.lookup.Status(ctx, ref, "")
	if err != nil {
		if !errors.Is(err, fulfillment.ErrNotFound) {
			s.g.log.Warn("ws.snapshot.fail", "reference", ref, "err", err)
		}
		return
	}
	env, err := statusEnvelope(fulfillment.StatusUpdate{
		Reference:   out.Result.Reference,
		Provider:    out.Result.Provider,
		Status:      out.Result.Status,
		Verified:    out.Verified,
		OrderNumber: out.OrderNumber,
		Amount:      out.Result.Amount,
		Currency:    out.Result.Currency,
	})
	if err != nil {
		s.g.log.Error("ws.snapshot.encode.fail", "reference", ref, "err", err)
		return
	}
	s.send(env)
}
