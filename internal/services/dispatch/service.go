package dispatch

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	gomail "gopkg.in/gomail.v2"

	"intruder-sentry-go/internal/config"
	"intruder-sentry-go/internal/models"
)

// SubjectTimeLayout is the human-readable timestamp embedded in the alert
// subject and body, e.g. "15-June-2023 [Thursday], 14:30:05".
const SubjectTimeLayout = "02-January-2006 [Monday], 15:04:05"

// MessageSender is the narrow slice of the mail transport the dispatcher
// needs. *gomail.Dialer satisfies it; tests substitute a double.
type MessageSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// BusPublisher mirrors dispatched alerts onto a message bus. Optional.
type BusPublisher interface {
	Publish(subject string, data interface{}) error
}

// Service formats and sends the control-room notification for a confirmed
// intrusion event. Exactly one send attempt is made per event; every failure
// is logged and reported to the caller, never escalated.
type Service struct {
	cfg    *config.Config
	sender MessageSender
	bus    BusPublisher
}

// NewService builds a dispatcher over an SMTP dialer that upgrades the
// plaintext connection with STARTTLS before authenticating. bus may be nil
// when the NATS mirror is disabled.
func NewService(cfg *config.Config, bus BusPublisher) *Service {
	return &Service{
		cfg:    cfg,
		sender: gomail.NewDialer(cfg.SMTPServer, cfg.SMTPPort, cfg.SenderEmail, cfg.SenderPassword),
		bus:    bus,
	}
}

// Dispatch sends the alert mail and, when configured, mirrors the alert onto
// the bus. The returned error covers the mail attempt only; the caller treats
// it as non-fatal and the event still goes to the durable store.
func (s *Service) Dispatch(ctx context.Context, ev models.IntrusionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.buildMessage(ev)

	sendErr := s.sender.DialAndSend(msg)
	if sendErr != nil {
		log.Error().
			Err(sendErr).
			Str("smtp_server", s.cfg.SMTPServer).
			Str("recipient", s.cfg.RecipientEmail).
			Msg("Failed to send alert mail")
		sendErr = fmt.Errorf("send alert mail: %w", sendErr)
	} else {
		log.Info().
			Str("recipient", s.cfg.RecipientEmail).
			Float64("confidence", ev.Confidence).
			Msg("Alert mail sent")
	}

	s.mirrorToBus(ev)

	return sendErr
}

// buildMessage composes the alert: timestamped subject, control-room body and
// the evidence image attached as image.jpg.
func (s *Service) buildMessage(ev models.IntrusionEvent) *gomail.Message {
	stamp := ev.Timestamp.Format(SubjectTimeLayout)

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.SenderEmail)
	m.SetHeader("To", s.cfg.RecipientEmail)
	m.SetHeader("Subject", fmt.Sprintf("*Intruder Alert : %s Hours*", stamp))
	m.SetBody("text/plain", fmt.Sprintf(
		"Dear Control Room,\nThis is to keep you informed that an intruder has entered the campus at %s Hours", stamp))

	m.Attach("image.jpg",
		gomail.SetHeader(map[string][]string{"Content-Type": {"image/jpeg"}}),
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(ev.EvidenceImage)
			return err
		}),
	)

	return m
}

// mirrorToBus publishes the alert payload when a bus is wired. Failures are
// logged and dropped; the mirror is best effort.
func (s *Service) mirrorToBus(ev models.IntrusionEvent) {
	if s.bus == nil {
		return
	}

	payload := models.AlertPayload{
		AlertType:  "INTRUSION_DETECTION",
		Severity:   models.AlertSeverityCritical,
		Category:   s.cfg.AlertCategory,
		Confidence: ev.Confidence,
		Timestamp:  ev.Timestamp,
		Source:     s.cfg.VideoURL,
	}

	if err := s.bus.Publish(s.cfg.AlertsSubject, payload); err != nil {
		log.Error().
			Err(err).
			Str("subject", s.cfg.AlertsSubject).
			Msg("Failed to publish alert mirror")
		return
	}

	log.Debug().Str("subject", s.cfg.AlertsSubject).Msg("Alert mirrored to bus")
}
