package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type bucket struct {
	count int
	until time.Time
}

// RateLimit caps requests per client in fixed windows. It guards the
// routes that queue pipeline work; limit <= 0 disables it.
// Place it after chi's RealIP so RemoteAddr is the client address.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limit, per, time.Now)
}

func rateLimit(limit int, per time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	var (
		mu        sync.Mutex
		buckets   = make(map[string]*bucket)
		nextSweep time.Time
	)
	return func(next http.Handler) http.Handler {
		if limit <= 0 || per <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			t := now()

			mu.Lock()
			if t.After(nextSweep) {
				for k, b := range buckets {
					if t.After(b.until) {
						delete(buckets, k)
					}
				}
				nextSweep = t.Add(per)
			}
			b, ok := buckets[key]
			if !ok || t.After(b.until) {
				b = &bucket{until: t.Add(per)}
				buckets[key] = b
			}
			if b.count >= limit {
				wait := b.until.Sub(t)
				mu.Unlock()
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"too many requests"}` + "\n"))
				return
			}
			b.count++
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
