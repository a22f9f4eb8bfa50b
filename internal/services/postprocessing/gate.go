package postprocessing

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"intruder-sentry-go/internal/models"
)

// Gate suppresses repeat alerts for the same ongoing intrusion. It keeps the
// last admitted event time per source and admits an event only when no prior
// admission exists or the cooldown window has fully elapsed. This is what
// keeps a sustained intrusion spanning many frames from becoming an alert
// storm.
type Gate struct {
	mu        sync.Mutex
	cooldown  time.Duration
	lastAdmit map[string]time.Time
}

func NewGate(cooldown time.Duration) *Gate {
	return &Gate{
		cooldown:  cooldown,
		lastAdmit: make(map[string]time.Time),
	}
}

// Admit decides whether an event passes the cooldown for its source and, if
// it does, records it as the new last admission. The very first event of a
// source always passes; an event exactly at the window boundary passes too.
// Downstream dispatch or store failures never roll this state back.
func (g *Gate) Admit(source string, ev models.IntrusionEvent) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, exists := g.lastAdmit[source]
	if exists && ev.Timestamp.Sub(last) < g.cooldown {
		log.Debug().
			Str("source", source).
			Time("last_admitted", last).
			Dur("cooldown", g.cooldown).
			Msg("Alert suppressed by cooldown")
		return false
	}

	g.lastAdmit[source] = ev.Timestamp
	return true
}
