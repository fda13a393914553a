package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/platform/httputil"
	"keyregistry/pkg/platform/middleware/metadata"
	"keyregistry/pkg/requestcontext"
)

// Middleware admits requests per caller address, or per client IP when the
// request carries no caller. Store failures fail open.
type Middleware struct {
	store    Store
	limit    int
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time
	rejected *prometheus.CounterVec
}

type Option func(*Middleware)

func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		m.now = now
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Middleware) {
		m.rejected = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "keyregistry_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"scope"})
	}
}

// New limits each client to limit requests per window. A non-positive limit
// disables limiting.
func New(store Store, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m.limit <= 0 || m.window <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		scope, key := "ip", "ip:"+metadata.GetClientIP(ctx)
		if caller := requestcontext.Caller(ctx); !caller.IsZero() {
			scope, key = "caller", "caller:"+caller.String()
		}

		now := m.now()
		res, err := m.store.Allow(ctx, key, m.limit, m.window, now)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "scope", scope)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			if m.rejected != nil {
				m.rejected.WithLabelValues(scope).Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter(now)))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
