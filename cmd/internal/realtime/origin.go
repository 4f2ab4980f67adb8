package realtime

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// originPolicy decides which browser origins may open the feed.
// Entries match either as a full origin or by host alone (any scheme or port).
type originPolicy struct {
	required bool
	wildcard bool
	exact    map[string]struct{}
	hosts    map[string]struct{}
}

func newOriginPolicy(required bool, allowed []string) originPolicy {
	p := originPolicy{
		required: required,
		exact:    make(map[string]struct{}, len(allowed)),
		hosts:    make(map[string]struct{}, len(allowed)),
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case a == "*":
			p.wildcard = true
		default:
			p.exact[strings.ToLower(strings.TrimRight(a, "/"))] = struct{}{}
			if h := hostOf(a); h != "" {
				p.hosts[h] = struct{}{}
			}
		}
	}
	return p
}

func (p originPolicy) check(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if p.required {
			return errors.New("missing origin")
		}
		return nil
	}
	if p.wildcard {
		return nil
	}
	if _, ok := p.exact[strings.ToLower(origin)]; ok {
		return nil
	}
	if _, ok := p.hosts[hostOf(origin)]; ok {
		return nil
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// acceptPatterns returns host and host:* patterns so websocket.Accept, which matches
// host[:port], admits the same origins as check.
func (p originPolicy) acceptPatterns() []string {
	out := make([]string, 0, len(p.hosts)*2)
	for h := range p.hosts {
		out = append(out, h, h+":*")
	}
	sort.Strings(out)
	return out
}

// hostOf extracts the lowercase host from "scheme://host[:port]" or "host[:port]".
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(strings.Trim(s, "[]"))
}
