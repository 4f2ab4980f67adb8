package payapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Security event actions.
const (
	actionDevBypassRejected = "payments.dev_bypass.rejected"
	actionBadSignature      = "payments.webhook.bad_signature"
	actionRateLimited       = "payments.rate_limited"
)

func (h *Handler) auditDevBypassRejected(ctx context.Context, ip net.IP, ua, orderID string) {
	h.insertAudit(ctx, actionDevBypassRejected, nil, ip, ua, map[string]any{
		"env":      h.svc.Config().Env,
		"order_id": orderID,
	})
}

// auditBadSignature records the reference the unsigned body claims, if any; it is not trusted.
func (h *Handler) auditBadSignature(ctx context.Context, ip net.IP, ua, providerName, claimedRef, reason string) {
	var ref *string
	if claimedRef = strings.TrimSpace(claimedRef); claimedRef != "" {
		ref = &claimedRef
	}
	h.insertAudit(ctx, actionBadSignature, ref, ip, ua, map[string]any{
		"provider": providerName,
		"reason":   reason,
	})
}

func (h *Handler) auditRateLimited(ctx context.Context, ip net.IP, ua, route string, retryAfter time.Duration) {
	h.insertAudit(ctx, actionRateLimited, nil, ip, ua, map[string]any{
		"route":         route,
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

// insertAudit logs a security event at WARN and stores it in audit_log when a pool is configured.
func (h *Handler) insertAudit(ctx context.Context, action string, reference *string, ip net.IP, ua string, meta map[string]any) {
	action = strings.TrimSpace(action)
	if h == nil || action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}
	h.log.Warn(action, "ip", ipVal, "meta", meta)

	if h.pool == nil {
		return
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO `+auditTable(h.schema)+` (
			action, reference, created_at, ip, user_agent, meta
		) VALUES ($1, $2, now(), $3, $4, $5::jsonb)
	`, action, reference, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("payments.audit.insert.fail", "err", err, "action", action)
	}
}

func auditTable(schema string) string {
	return pgx.Identifier{schema, "audit_log"}.Sanitize()
}

// SchemaSQL returns the audit_log DDL for schema.
func SchemaSQL(schema string) string {
	t := auditTable(schema)
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  action TEXT NOT NULL,
  reference TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  ip INET NULL,
  user_agent TEXT NULL,
  meta JSONB NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_action_created_at ON %s (action, created_at DESC);
`, t, t)
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
