package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Hard limits. Client frames are tiny control messages.
const (
	maxFrameBytes           = 4 << 10
	maxSubscriptionsPerConn = 16
	maxReferenceLen         = 128

	wsMinSendQueue    = 8
	wsMaxPingFailures = 3
	wsCloseGrace      = time.Second
	snapshotTimeout   = 3 * time.Second
)

// WSConfig tunes the status feed gateway. Zero fields take defaults.
type WSConfig struct {
	// DevInsecure skips websocket.Accept's own origin verification. Development only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueue       int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// RateEvents inbound frames are allowed per RateWindow on one connection.
	RateEvents int
	RateWindow time.Duration
}

// DefaultWSConfig is the secure default: origin required, localhost only.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueue:         64,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		RateEvents:        60,
		RateWindow:        10 * time.Second,
	}
}

// LoadWSConfigFromEnv overlays TICKETPAY_WS_* variables on DefaultWSConfig.
func LoadWSConfigFromEnv() WSConfig {
	c := DefaultWSConfig()
	wsEnv("TICKETPAY_WS_DEV_INSECURE", &c.DevInsecure, strconv.ParseBool)
	wsEnv("TICKETPAY_WS_ORIGIN_REQUIRED", &c.OriginRequired, strconv.ParseBool)
	wsEnv("TICKETPAY_WS_ALLOWED_ORIGINS", &c.AllowedOrigins, splitCSV)
	wsEnv("TICKETPAY_WS_WRITE_TIMEOUT", &c.WriteTimeout, positiveDuration)
	wsEnv("TICKETPAY_WS_READ_IDLE_TIMEOUT", &c.ReadIdleTimeout, positiveDuration)
	wsEnv("TICKETPAY_WS_SEND_QUEUE", &c.SendQueue, positiveInt)
	wsEnv("TICKETPAY_WS_HEARTBEAT_INTERVAL", &c.HeartbeatInterval, positiveDuration)
	wsEnv("TICKETPAY_WS_HEARTBEAT_TIMEOUT", &c.HeartbeatTimeout, positiveDuration)
	wsEnv("TICKETPAY_WS_RATE_EVENTS", &c.RateEvents, positiveInt)
	wsEnv("TICKETPAY_WS_RATE_WINDOW", &c.RateWindow, positiveDuration)
	return c
}

func (c WSConfig) withDefaults() WSConfig {
	d := DefaultWSConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueue < wsMinSendQueue {
		c.SendQueue = wsMinSendQueue
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

// wsEnv overwrites *dst when key is set and parses cleanly.
func wsEnv[T any](key string, dst *T, parse func(string) (T, error)) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if v, err := parse(raw); err == nil {
		*dst = v
	}
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err == nil && n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, err
}

func positiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil && d <= 0 {
		return 0, strconv.ErrRange
	}
	return d, err
}

func splitCSV(s string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
