package httpx

import (
	"net/http"
	"sync"

	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// WithCORS lets the browser floor plan call the agent from origins.
// An empty list allows any origin.
func WithCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", HeaderIdentity},
	}).Handler(h)
}

// identityLimiter throttles state-changing calls per identity so a
// double-clicking customer cannot flood the channel.
type identityLimiter struct {
	every rate.Limit
	burst int

	mu  sync.Mutex
	per map[string]*rate.Limiter
}

func newIdentityLimiter(perSecond float64, burst int) *identityLimiter {
	return &identityLimiter{every: rate.Limit(perSecond), burst: burst, per: make(map[string]*rate.Limiter)}
}

func (l *identityLimiter) allow(who string) bool {
	l.mu.Lock()
	lim, ok := l.per[who]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.per[who] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
