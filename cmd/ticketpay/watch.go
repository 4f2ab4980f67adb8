package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticketpay/cmd/internal/app"
	"ticketpay/cmd/internal/payment/provider"
	v1 "ticketpay/shared/contracts/payments/v1"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
)

const watchMaxReadBytes = 64 << 10

var errWatchRejected = errors.New("watch: subscription rejected")

type watchOptions struct {
	URL       string
	Origin    string
	Reference string
	// Follow keeps watching after a terminal status (successful or failed).
	Follow      bool
	StepTimeout time.Duration
}

func watchCmd() *cobra.Command {
	opts := watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <reference>",
		Short: "Subscribe to the realtime status feed for one payment reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Reference = args[0]
			if opts.URL == "" {
				opts.URL = app.StatusFeedURL(app.LoadConfig())
			}
			ctx, cancel := signalContext()
			defer cancel()
			return watch(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "status feed URL (default derived from TICKETPAY_PUBLIC_BASE_URL / TICKETPAY_HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.Origin, "origin", "http://localhost", "Origin header sent with the handshake")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "keep watching after a terminal status")
	cmd.Flags().DurationVar(&opts.StepTimeout, "timeout", 7*time.Second, "handshake and write timeout")
	return cmd
}

// watch subscribes to opts.Reference and prints one line per status envelope.
// It returns after the first terminal status unless opts.Follow is set.
func watch(ctx context.Context, opts watchOptions, out io.Writer) error {
	if err := validateWSURL(opts.URL); err != nil {
		return fmt.Errorf("watch: invalid url: %w", err)
	}
	ref := strings.TrimSpace(opts.Reference)
	if ref == "" {
		return errors.New("watch: reference is required")
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 7 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.StepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(opts.Origin) != "" {
		h.Set("Origin", opts.Origin)
	}
	conn, resp, err := websocket.Dial(dialCtx, opts.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("watch: connect: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(watchMaxReadBytes)

	payload, _ := json.Marshal(v1.SubscribePayload{Reference: ref})
	sub := v1.Envelope{V: v1.Version, Type: v1.TypeSubscribe, TS: time.Now().UTC(), Payload: payload}
	if err := writeWithTimeout(ctx, conn, sub, opts.StepTimeout); err != nil {
		return fmt.Errorf("watch: subscribe: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch: read: %w", err)
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("watch: decode envelope: %w", err)
		}

		switch env.Type {
		case v1.TypeSubscribed:
			fmt.Fprintf(out, "subscribed reference=%s\n", ref)
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			return fmt.Errorf("%w: %s: %s", errWatchRejected, p.Code, p.Message)
		case v1.TypePaymentStatus:
			var p v1.PaymentStatusPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("watch: decode status: %w", err)
			}
			fmt.Fprintf(out, "status reference=%s provider=%s status=%s verified=%t amount=%s currency=%s order=%s\n",
				p.Reference, p.Provider, p.Status, p.Verified, p.Amount, p.Currency, p.OrderNumber)
			if !opts.Follow && terminalStatus(p.Status) {
				return nil
			}
		}
	}
}

func terminalStatus(s string) bool {
	return s == string(provider.StatusSuccessful) || s == string(provider.StatusFailed)
}

func writeWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}
