package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"intruder-sentry-go/internal/config"
	"intruder-sentry-go/internal/models"
)

// FrameSource yields successive frames from the live stream. After a read
// fault the source is unusable and must be closed and reopened; it does not
// self-heal.
type FrameSource interface {
	Open() error
	Read(ctx context.Context) (*models.Frame, error)
	Close() error
}

// Detector runs inference on a frame and returns raw candidates.
type Detector interface {
	Detect(ctx context.Context, frame *models.Frame) ([]models.DetectionCandidate, error)
}

// EventFilter applies category and confidence policy to candidates.
type EventFilter interface {
	Apply(frame *models.Frame, candidates []models.DetectionCandidate) []models.IntrusionEvent
}

// DedupGate admits at most one alert per source per cooldown window.
type DedupGate interface {
	Admit(source string, ev models.IntrusionEvent) bool
}

// Dispatcher sends the human notification for an admitted event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.IntrusionEvent) error
}

// EventStore durably records an admitted event.
type EventStore interface {
	Persist(ctx context.Context, ev models.IntrusionEvent) error
}

// Controller orchestrates the monitoring loop: pull a frame, run detection,
// filter and dedup, fan out to dispatcher and store, and restart the source
// after faults. A single worker processes frames strictly sequentially, so
// events reach the dispatcher and store in capture order.
type Controller struct {
	cfg        *config.Config
	source     FrameSource
	detector   Detector
	filter     EventFilter
	gate       DedupGate
	dispatcher Dispatcher
	store      EventStore

	sourceID string
	restarts int
}

func New(cfg *config.Config, source FrameSource, detector Detector, filter EventFilter,
	gate DedupGate, dispatcher Dispatcher, store EventStore) *Controller {
	return &Controller{
		cfg:        cfg,
		source:     source,
		detector:   detector,
		filter:     filter,
		gate:       gate,
		dispatcher: dispatcher,
		store:      store,
		sourceID:   cfg.VideoURL,
	}
}

// Run drives the pipeline until the context is cancelled or a store write
// fails. Frame faults are absorbed: the source is closed, reopened after the
// configured delay and the loop resumes. Restarting is an explicit loop, not
// a recursive re-entry, so an unreliable stream cannot grow the stack.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().
		Str("source", c.sourceID).
		Dur("poll_interval", c.cfg.PollInterval).
		Dur("alert_cooldown", c.cfg.AlertCooldown).
		Msg("Pipeline starting")

	if err := c.source.Open(); err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}
	defer c.source.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Pipeline stopped")
			return nil
		default:
		}

		frame, err := c.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Pipeline stopped")
				return nil
			}

			log.Warn().
				Err(err).
				Str("source", c.sourceID).
				Msg("Frame source fault, restarting capture")

			if !c.restart(ctx) {
				log.Info().Msg("Pipeline stopped during restart")
				return nil
			}
			continue
		}

		if err := c.processFrame(ctx, frame); err != nil {
			return err
		}

		if !sleepCtx(ctx, c.cfg.PollInterval) {
			log.Info().Msg("Pipeline stopped")
			return nil
		}
	}
}

// processFrame runs one frame through detect, filter, dedup and the fan-out.
// Dispatch failures are absorbed; store failures propagate and end the run.
func (c *Controller) processFrame(ctx context.Context, frame *models.Frame) error {
	candidates, err := c.detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Msg("Detection failed for frame, skipping")
		return nil
	}

	for _, ev := range c.filter.Apply(frame, candidates) {
		if !c.gate.Admit(c.sourceID, ev) {
			continue
		}

		// Notification and persistence are independent: a failed send must
		// not block the durable record.
		if err := c.dispatcher.Dispatch(ctx, ev); err != nil {
			log.Error().Err(err).Msg("Alert dispatch failed, event will still be persisted")
		}

		if err := c.store.Persist(ctx, ev); err != nil {
			return fmt.Errorf("persist intrusion event: %w", err)
		}
	}

	return nil
}

// restart closes the faulted source, waits the configured delay and keeps
// trying to reopen until it succeeds or the context ends. Returns false when
// cancelled.
func (c *Controller) restart(ctx context.Context) bool {
	c.source.Close()

	for {
		c.restarts++
		log.Info().
			Int("restart_count", c.restarts).
			Dur("restart_delay", c.cfg.RestartDelay).
			Msg("Waiting before reopening frame source")

		if !sleepCtx(ctx, c.cfg.RestartDelay) {
			return false
		}

		if err := c.source.Open(); err != nil {
			log.Error().
				Err(err).
				Int("restart_count", c.restarts).
				Msg("Failed to reopen frame source, will retry")
			continue
		}

		log.Info().Int("restart_count", c.restarts).Msg("Frame source reopened")
		return true
	}
}

// sleepCtx waits for d or until the context ends; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
