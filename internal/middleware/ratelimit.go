package middleware

import (
	"net/http"
	"sync"
	"time"
)

// Потолки для личного сайта: одна лента и пара тредов не дают
// легитимных всплесков выше этих значений.
const (
	rateWindow     = time.Minute
	rateMaxPerIP   = 120
	rateMaxPerUser = 60
)

// slidingLimiter — скользящее окно по ключу. Просроченные отметки
// вычищаются при обращении к ключу и целиком раз в окно.
type slidingLimiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	max       int
	window    time.Duration
	lastSweep time.Time
}

func newSlidingLimiter(max int, window time.Duration) *slidingLimiter {
	return &slidingLimiter{hits: make(map[string][]time.Time), max: max, window: window, lastSweep: time.Now()}
}

func (l *slidingLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) > l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}
	recent := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.max {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

// sweep выбрасывает ключи без свежих отметок, иначе карта растёт
// на каждом новом IP бесконечно.
func (l *slidingLimiter) sweep(cutoff time.Time) {
	for key, times := range l.hits {
		alive := false
		for _, t := range times {
			if t.After(cutoff) {
				alive = true
				break
			}
		}
		if !alive {
			delete(l.hits, key)
		}
	}
}

var (
	limitByIP   = newSlidingLimiter(rateMaxPerIP, rateWindow)
	limitByUser = newSlidingLimiter(rateMaxPerUser, rateWindow)
)

// RateLimitAPI ограничивает запросы по IP и, для аутентифицированных,
// по user_id. 429 при превышении.
func RateLimitAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limitByIP.allow(clientIP(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if userID := GetUserID(r.Context()); userID != "" {
			if !limitByUser.allow("u:" + userID) {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
