package accessapi

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"humaniq/cmd/internal/invite"
)

// failureLimiter counts failed invitation lookups per client IP inside a
// sliding window.
type failureLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

const limiterSweepAt = 4096

func newFailureLimiter(limit int, window time.Duration) *failureLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &failureLimiter{limit: limit, window: window, hits: make(map[string][]time.Time)}
}

// blocked reports whether key is throttled at now, and for how long.
func (l *failureLimiter) blocked(key string, now time.Time) (bool, time.Duration) {
	if l == nil || key == "" {
		return false, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.prune(key, now)
	if len(live) < l.limit {
		return false, 0
	}
	retry := live[0].Add(l.window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return true, retry
}

func (l *failureLimiter) fail(key string, now time.Time) {
	if l == nil || key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.hits) >= limiterSweepAt {
		for k := range l.hits {
			l.prune(k, now)
		}
	}
	l.hits[key] = append(l.prune(key, now), now)
}

// prune drops hits older than the window. Caller holds mu.
func (l *failureLimiter) prune(key string, now time.Time) []time.Time {
	cut := now.Add(-l.window)
	hits := l.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cut) {
		i++
	}
	hits = hits[i:]
	if len(hits) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = hits
	return hits
}

// throttleInvite rejects the request when the client IP has too many recent
// failed invitation lookups. It returns the limiter key for recording failures.
func (h *Handler) throttleInvite(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	ip := clientIP(r, h.cfg.TrustProxy)
	if ip == nil {
		return "", true
	}
	key := ip.String()
	if ok, retryAfter := h.limiter.blocked(key, h.now()); ok {
		h.metrics.Invite(op, "rate_limited")
		h.log.Warn("access.convite.rate_limited", "op", op, "ip", key, "retry_after", retryAfter)
		writeRateLimited(w, retryAfter)
		return key, false
	}
	return key, true
}

// recordInviteFailure counts lookups that miss or hit a dead invitation.
func (h *Handler) recordInviteFailure(key string, err error) {
	if errors.Is(err, invite.ErrNotFound) || errors.Is(err, invite.ErrInvalidState) {
		h.limiter.fail(key, h.now())
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
