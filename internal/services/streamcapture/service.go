package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"intruder-sentry-go/internal/config"
	"intruder-sentry-go/internal/models"
)

// ErrSourceFault reports that the capture device failed to produce a frame.
// The source is unusable after a fault; the controller must Close and Open it
// again. The stream is effectively infinite, so end-of-stream is a fault too.
var ErrSourceFault = errors.New("stream capture fault")

const (
	maxConsecutiveReadErrors = 5
	jpegQuality              = 95
)

// Source wraps an OpenCV VideoCapture over the configured stream URL and
// yields JPEG-encoded frames one at a time.
type Source struct {
	cfg *config.Config
	cap *gocv.VideoCapture
}

func NewSource(cfg *config.Config) *Source {
	return &Source{cfg: cfg}
}

// Open connects to the stream. Safe to call again after Close.
func (s *Source) Open() error {
	if s.cap != nil {
		return fmt.Errorf("stream already open: %s", s.cfg.VideoURL)
	}

	configureFFmpegOptions()

	cap, err := gocv.OpenVideoCaptureWithAPI(s.cfg.VideoURL, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return fmt.Errorf("failed to open stream %s: %w", s.cfg.VideoURL, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("stream %s did not open", s.cfg.VideoURL)
	}

	// Minimal internal buffering so frames reflect the present, not a backlog.
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	log.Info().
		Str("url", s.cfg.VideoURL).
		Float64("fps", cap.Get(gocv.VideoCaptureFPS)).
		Float64("width", cap.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", cap.Get(gocv.VideoCaptureFrameHeight)).
		Msg("Video capture opened")

	s.cap = cap
	return nil
}

// Read pulls the next frame and encodes it as JPEG evidence. A frame that
// cannot be produced after bounded retries is reported as ErrSourceFault.
func (s *Source) Read(ctx context.Context) (*models.Frame, error) {
	if s.cap == nil {
		return nil, fmt.Errorf("%w: source not open", ErrSourceFault)
	}

	img := gocv.NewMat()
	defer img.Close()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if ok := s.cap.Read(&img); !ok || img.Empty() {
			consecutiveErrors++
			log.Warn().
				Str("url", s.cfg.VideoURL).
				Int("consecutive_errors", consecutiveErrors).
				Msg("Failed to read frame from video capture")

			if consecutiveErrors >= maxConsecutiveReadErrors {
				return nil, fmt.Errorf("%w: no frame after %d attempts", ErrSourceFault, consecutiveErrors)
			}

			// Progressive delay before the next attempt, capped at 2s.
			delay := time.Duration(consecutiveErrors*100) * time.Millisecond
			if delay > 2*time.Second {
				delay = 2 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		break
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("%w: jpeg encode: %v", ErrSourceFault, err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return &models.Frame{
		Data:       data,
		Width:      img.Cols(),
		Height:     img.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

// Close releases the capture handle. The source can be reopened afterwards.
func (s *Source) Close() error {
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	if err != nil {
		return fmt.Errorf("failed to close video capture: %w", err)
	}
	log.Debug().Str("url", s.cfg.VideoURL).Msg("Video capture closed")
	return nil
}

// configureFFmpegOptions sets the capture options the OpenCV FFmpeg backend
// reads from the environment. Tuned for live streams: TCP transport, small
// buffers, aggressive reconnect.
func configureFFmpegOptions() {
	ffmpegOptions := map[string]string{
		"rtsp_transport":      "tcp",
		"buffer_size":         "2097152",
		"max_delay":           "500000",
		"stimeout":            "5000000",
		"fflags":              "nobuffer",
		"flags":               "low_delay",
		"err_detect":          "careful",
		"allowed_media_types": "video",
		"reconnect":           "1",
		"reconnect_streamed":  "1",
		"reconnect_delay_max": "2",
	}

	opts := make([]string, 0, len(ffmpegOptions))
	for key, value := range ffmpegOptions {
		opts = append(opts, key+";"+value)
	}
	os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", strings.Join(opts, "|"))
}
