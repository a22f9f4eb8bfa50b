package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"intruder-sentry-go/internal/config"
)

func TestClassLabel_MapsConfiguredNames(t *testing.T) {
	a := &Adapter{classNames: []string{"Intruder", "Person"}}

	assert.Equal(t, "Intruder", a.classLabel(0))
	assert.Equal(t, "Person", a.classLabel(1))
}

func TestClassLabel_UnknownIndex(t *testing.T) {
	a := &Adapter{classNames: []string{"Intruder"}}

	assert.Equal(t, "unknown_7", a.classLabel(7))
	assert.Equal(t, "unknown_-1", a.classLabel(-1))
}

func TestNewAdapter_MissingWeights(t *testing.T) {
	cfg := &config.Config{
		ModelWeightsPath: "/nonexistent/intruder.onnx",
		ModelClassNames:  []string{"Intruder"},
	}

	_, err := NewAdapter(cfg)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "model weights not found")
}
