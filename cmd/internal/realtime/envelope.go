package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"ticketpay/cmd/identity/ids"
	v1 "ticketpay/shared/contracts/payments/v1"

	"github.com/coder/websocket"
)

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, _ := ids.NewULID(ts)
	return v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: ts, Payload: payload}
}

func errorEnvelope(code, msg string) v1.Envelope {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	return newEnvelope(v1.TypeError, p, time.Now().UTC())
}

func ackEnvelope(typ, ref, sessionID string) v1.Envelope {
	p, _ := json.Marshal(v1.SubscribedPayload{Reference: ref, SessionID: sessionID})
	env := newEnvelope(typ, p, time.Now().UTC())
	env.Reference = ref
	return env
}

// errBadJSON marks a frame that arrived intact but did not decode.
var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

// closeFor maps a terminal read error to the close frame the session answers with.
// ok=false means the error is recoverable and the read loop should continue.
func closeFor(err error) (code websocket.StatusCode, reason string, ok bool) {
	switch {
	case errors.Is(err, errBadJSON):
		return 0, "", false
	case websocket.CloseStatus(err) != -1:
		return websocket.StatusNormalClosure, "peer closed", true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return websocket.StatusNormalClosure, "idle", true
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return websocket.StatusAbnormalClosure, "conn closed", true
	default:
		return websocket.StatusAbnormalClosure, "read failed", true
	}
}
