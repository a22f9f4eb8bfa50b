package postprocessing

import (
	"time"

	"github.com/rs/zerolog/log"

	"intruder-sentry-go/internal/models"
)

// Filter turns raw detection candidates into confirmed intrusion events.
// A candidate qualifies iff its category matches and its confidence is
// strictly above the threshold; a confidence equal to the threshold does not
// qualify.
type Filter struct {
	category  string
	threshold float64
	loc       *time.Location

	now func() time.Time
}

func NewFilter(category string, threshold float64, loc *time.Location) *Filter {
	return &Filter{
		category:  category,
		threshold: threshold,
		loc:       loc,
		now:       time.Now,
	}
}

// Apply evaluates every candidate of a frame. Each qualifying candidate
// becomes its own event stamped with the current wall-clock time in the
// configured zone and carrying the frame's evidence image. Collapsing
// repeats of the same ongoing intrusion is the dedup gate's job, not this
// layer's.
func (f *Filter) Apply(frame *models.Frame, candidates []models.DetectionCandidate) []models.IntrusionEvent {
	var events []models.IntrusionEvent

	for _, c := range candidates {
		if c.Category != f.category || c.Confidence <= f.threshold {
			continue
		}

		events = append(events, models.IntrusionEvent{
			Timestamp:     f.now().In(f.loc),
			EvidenceImage: frame.Data,
			Confidence:    c.Confidence,
		})

		log.Info().
			Str("category", c.Category).
			Float64("confidence", c.Confidence).
			Msg("Intrusion event confirmed")
	}

	return events
}
