package models

import (
	"time"
)

// Frame is a single still image sampled from the live stream. A frame is
// owned by the loop iteration that read it and is discarded once processed.
type Frame struct {
	Data       []byte // JPEG-encoded
	Width      int
	Height     int
	CapturedAt time.Time
}

// DetectionCandidate is one raw output of the detection model for a frame.
// Candidates are immutable and not retained beyond filtering. No ordering
// among candidates of the same frame is guaranteed.
type DetectionCandidate struct {
	Category    string  `json:"category"`
	BoundingBox [4]int  `json:"bounding_box"` // x1, y1, x2, y2 in pixels
	Confidence  float64 `json:"confidence"`   // in [0, 1]
}

// IntrusionEvent is a candidate that passed category and confidence policy,
// stamped with zoned wall-clock time and carrying the evidence image. It is
// consumed exactly once by the dispatcher and exactly once by the store and
// never mutated after creation.
type IntrusionEvent struct {
	Timestamp     time.Time
	EvidenceImage []byte
	Confidence    float64
}

// AlertSeverity represents the severity level of alerts.
type AlertSeverity string

const (
	AlertSeverityHigh     AlertSeverity = "HIGH"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// AlertPayload is the structure mirrored onto the message bus when an
// intrusion alert is dispatched.
type AlertPayload struct {
	AlertType  string        `json:"alert_type"`
	Severity   AlertSeverity `json:"severity"`
	Category   string        `json:"category"`
	Confidence float64       `json:"confidence"`
	Timestamp  time.Time     `json:"timestamp"`
	Source     string        `json:"source"`
}
