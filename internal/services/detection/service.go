package detection

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"intruder-sentry-go/internal/config"
	"intruder-sentry-go/internal/models"
)

const inputSize = 300

// Adapter runs the detection network in-process. The weights are loaded once
// at construction and the loaded network is reused for every frame; there is
// exactly one caller at a time in this design.
type Adapter struct {
	net        gocv.Net
	classNames []string
}

// NewAdapter loads the model weights from the configured path. A model that
// cannot be loaded is a startup failure, not something to retry per frame.
func NewAdapter(cfg *config.Config) (*Adapter, error) {
	if _, err := os.Stat(cfg.ModelWeightsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model weights not found: %s", cfg.ModelWeightsPath)
	}
	if cfg.ModelConfigPath != "" {
		if _, err := os.Stat(cfg.ModelConfigPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("model config not found: %s", cfg.ModelConfigPath)
		}
	}

	net := gocv.ReadNet(cfg.ModelWeightsPath, cfg.ModelConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection network from %s", cfg.ModelWeightsPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set network backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set network target: %w", err)
	}

	log.Info().
		Str("weights", cfg.ModelWeightsPath).
		Strs("class_names", cfg.ModelClassNames).
		Msg("Detection network initialized")

	return &Adapter{net: net, classNames: cfg.ModelClassNames}, nil
}

// Detect runs inference on one JPEG frame and returns every candidate the
// network produced. Policy decisions (category, threshold) belong to the
// event filter, not here.
func (a *Adapter) Detect(ctx context.Context, frame *models.Frame) ([]models.DetectionCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(inputSize, inputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	a.net.SetInput(blob, "")
	output := a.net.Forward("")
	defer output.Close()

	// Each detection row is [batchID, classID, confidence, x1, y1, x2, y2]
	// with coordinates normalized to the frame.
	var candidates []models.DetectionCandidate
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	for i := 0; i < reshaped.Rows(); i++ {
		confidence := float64(reshaped.GetFloatAt(i, 2))
		if confidence <= 0 {
			continue
		}

		classID := int(reshaped.GetFloatAt(i, 1))
		x1 := int(reshaped.GetFloatAt(i, 3) * float32(mat.Cols()))
		y1 := int(reshaped.GetFloatAt(i, 4) * float32(mat.Rows()))
		x2 := int(reshaped.GetFloatAt(i, 5) * float32(mat.Cols()))
		y2 := int(reshaped.GetFloatAt(i, 6) * float32(mat.Rows()))

		candidates = append(candidates, models.DetectionCandidate{
			Category:    a.classLabel(classID),
			BoundingBox: [4]int{x1, y1, x2, y2},
			Confidence:  confidence,
		})
	}

	log.Debug().
		Int("candidates", len(candidates)).
		Msg("Frame inference completed")

	return candidates, nil
}

// classLabel maps a network class index onto the configured class names.
func (a *Adapter) classLabel(classID int) string {
	if classID >= 0 && classID < len(a.classNames) {
		return a.classNames[classID]
	}
	return fmt.Sprintf("unknown_%d", classID)
}

// Close releases the loaded network.
func (a *Adapter) Close() error {
	return a.net.Close()
}
