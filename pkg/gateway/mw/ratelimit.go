package mw

import (
	"net/http"
	"time"

	"github.com/vango-go/vai-rooms/pkg/gateway/apierror"
	"github.com/vango-go/vai-rooms/pkg/gateway/config"
	"github.com/vango-go/vai-rooms/pkg/gateway/principal"
	"github.com/vango-go/vai-rooms/pkg/gateway/ratelimit"
)

func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and scrape endpoints must remain cheap and reliable.
		switch r.URL.Path {
		case "/", "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		p := principal.Resolve(r, cfg)
		dec := limiter.AcquireRequest(p.Key, classify(r), time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			e := &apierror.Error{
				Type:      apierror.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			}
			if dec.RetryAfter > 0 {
				v := dec.RetryAfter
				e.RetryAfter = &v
			}
			apierror.Write(w, http.StatusTooManyRequests, e)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}

// classify puts routes that launch a worker or call the language model in
// the costly class.
func classify(r *http.Request) ratelimit.Class {
	switch r.URL.Path {
	case "/daily/", "/daily/connect", "/chat", "/feedback":
		return ratelimit.ClassCostly
	}
	return ratelimit.ClassRead
}
