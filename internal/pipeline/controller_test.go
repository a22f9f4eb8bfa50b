package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intruder-sentry-go/internal/config"
	"intruder-sentry-go/internal/models"
	"intruder-sentry-go/internal/services/postprocessing"
)

var errFault = errors.New("capture fault")

type step struct {
	frame *models.Frame
	err   error
}

// fakeSource serves a scripted sequence of frames and faults, then cancels
// the run context.
type fakeSource struct {
	steps     []step
	idx       int
	opens     int
	closes    int
	openErr   error
	openErrAt int // 1-based Open call that fails; 0 = never
	cancel    context.CancelFunc
}

func (s *fakeSource) Open() error {
	s.opens++
	if s.openErr != nil && s.opens == s.openErrAt {
		return s.openErr
	}
	return nil
}

func (s *fakeSource) Close() error {
	s.closes++
	return nil
}

func (s *fakeSource) Read(ctx context.Context) (*models.Frame, error) {
	if s.idx >= len(s.steps) {
		if s.cancel != nil {
			s.cancel()
		}
		return nil, ctx.Err()
	}
	st := s.steps[s.idx]
	s.idx++
	return st.frame, st.err
}

type fakeDetector struct {
	calls      int
	candidates []models.DetectionCandidate
	err        error
}

func (d *fakeDetector) Detect(_ context.Context, _ *models.Frame) ([]models.DetectionCandidate, error) {
	d.calls++
	return d.candidates, d.err
}

type fakeDispatcher struct {
	events []models.IntrusionEvent
	err    error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, ev models.IntrusionEvent) error {
	d.events = append(d.events, ev)
	return d.err
}

type fakeStore struct {
	events []models.IntrusionEvent
	err    error
}

func (s *fakeStore) Persist(_ context.Context, ev models.IntrusionEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		VideoURL:            "rtsp://camera.local/stream",
		PollInterval:        0,
		RestartDelay:        time.Millisecond,
		AlertCategory:       "Intruder",
		ConfidenceThreshold: 0.5,
		AlertCooldown:       30 * time.Second,
	}
}

type pipelineParts struct {
	source     *fakeSource
	detector   *fakeDetector
	dispatcher *fakeDispatcher
	store      *fakeStore
	controller *Controller
	ctx        context.Context
}

func buildPipeline(t *testing.T, cfg *config.Config, steps []step, detector *fakeDetector) *pipelineParts {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	source := &fakeSource{steps: steps, cancel: cancel}
	dispatcher := &fakeDispatcher{}
	st := &fakeStore{}

	controller := New(
		cfg,
		source,
		detector,
		postprocessing.NewFilter(cfg.AlertCategory, cfg.ConfidenceThreshold, time.UTC),
		postprocessing.NewGate(cfg.AlertCooldown),
		dispatcher,
		st,
	)

	return &pipelineParts{
		source:     source,
		detector:   detector,
		dispatcher: dispatcher,
		store:      st,
		controller: controller,
		ctx:        ctx,
	}
}

func frame() *models.Frame {
	return &models.Frame{Data: []byte("jpeg"), CapturedAt: time.Now()}
}

func TestRun_ConfidentDetectionDispatchesAndPersistsOnce(t *testing.T) {
	det := &fakeDetector{candidates: []models.DetectionCandidate{
		{Category: "Intruder", Confidence: 0.83},
	}}
	p := buildPipeline(t, testConfig(), []step{{frame: frame()}}, det)

	err := p.controller.Run(p.ctx)

	require.NoError(t, err)
	require.Len(t, p.dispatcher.events, 1)
	require.Len(t, p.store.events, 1)
	assert.Equal(t, 0.83, p.dispatcher.events[0].Confidence)
	assert.Equal(t, p.dispatcher.events[0], p.store.events[0])
}

func TestRun_LowConfidenceHasNoSideEffects(t *testing.T) {
	det := &fakeDetector{candidates: []models.DetectionCandidate{
		{Category: "Intruder", Confidence: 0.40},
	}}
	p := buildPipeline(t, testConfig(), []step{{frame: frame()}}, det)

	err := p.controller.Run(p.ctx)

	require.NoError(t, err)
	assert.Empty(t, p.dispatcher.events)
	assert.Empty(t, p.store.events)
}

func TestRun_SourceFaultRestartsWithoutExit(t *testing.T) {
	det := &fakeDetector{}
	steps := []step{
		{frame: frame()},
		{err: errFault},
		{frame: frame()},
	}
	p := buildPipeline(t, testConfig(), steps, det)

	err := p.controller.Run(p.ctx)

	require.NoError(t, err)
	// Initial open plus one reopen after the fault; close on fault plus the
	// final close when the run ends
	assert.Equal(t, 2, p.source.opens)
	assert.Equal(t, 2, p.source.closes)
	assert.Equal(t, 2, det.calls)
}

func TestRun_ReopenFailureIsRetried(t *testing.T) {
	det := &fakeDetector{}
	steps := []step{
		{err: errFault},
		{frame: frame()},
	}
	p := buildPipeline(t, testConfig(), steps, det)
	// Initial open succeeds, the first reopen fails, the restart loop tries
	// again and the second reopen succeeds
	p.source.openErr = errors.New("still unreachable")
	p.source.openErrAt = 2

	err := p.controller.Run(p.ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, p.source.opens)
	assert.Equal(t, 1, det.calls)
}

func TestRun_CooldownSuppressesRepeatAlerts(t *testing.T) {
	det := &fakeDetector{candidates: []models.DetectionCandidate{
		{Category: "Intruder", Confidence: 0.83},
	}}
	steps := []step{{frame: frame()}, {frame: frame()}, {frame: frame()}}
	p := buildPipeline(t, testConfig(), steps, det)

	err := p.controller.Run(p.ctx)

	require.NoError(t, err)
	// Frames arrive well inside the 30s window: only the first alert passes
	assert.Len(t, p.dispatcher.events, 1)
	assert.Len(t, p.store.events, 1)
}

func TestRun_DispatchFailureDoesNotBlockPersistence(t *testing.T) {
	det := &fakeDetector{candidates: []models.DetectionCandidate{
		{Category: "Intruder", Confidence: 0.83},
	}}
	p := buildPipeline(t, testConfig(), []step{{frame: frame()}}, det)
	p.dispatcher.err = errors.New("smtp auth failed")

	err := p.controller.Run(p.ctx)

	require.NoError(t, err)
	require.Len(t, p.dispatcher.events, 1)
	require.Len(t, p.store.events, 1)
	assert.Equal(t, p.dispatcher.events[0], p.store.events[0])
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	det := &fakeDetector{candidates: []models.DetectionCandidate{
		{Category: "Intruder", Confidence: 0.83},
	}}
	p := buildPipeline(t, testConfig(), []step{{frame: frame()}}, det)
	p.store.err = errors.New("connection refused")

	err := p.controller.Run(p.ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist intrusion event")
}

func TestRun_DetectionErrorIsAbsorbed(t *testing.T) {
	det := &fakeDetector{err: errors.New("inference failed")}
	steps := []step{{frame: frame()}, {frame: frame()}}
	p := buildPipeline(t, testConfig(), steps, det)

	err := p.controller.Run(p.ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, det.calls)
	assert.Empty(t, p.dispatcher.events)
	assert.Empty(t, p.store.events)
}

func TestRun_InitialOpenFailureIsFatal(t *testing.T) {
	det := &fakeDetector{}
	p := buildPipeline(t, testConfig(), nil, det)
	p.source.openErr = errors.New("unreachable")
	p.source.openErrAt = 1

	err := p.controller.Run(p.ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "open frame source")
}

func TestRun_EventsReachStoreInCaptureOrder(t *testing.T) {
	cfg := testConfig()
	cfg.AlertCooldown = 0
	det := &fakeDetector{candidates: []models.DetectionCandidate{
		{Category: "Intruder", Confidence: 0.83},
	}}
	steps := []step{{frame: frame()}, {frame: frame()}, {frame: frame()}}
	p := buildPipeline(t, cfg, steps, det)

	err := p.controller.Run(p.ctx)

	require.NoError(t, err)
	require.Len(t, p.store.events, 3)
	for i := 1; i < len(p.store.events); i++ {
		assert.False(t, p.store.events[i].Timestamp.Before(p.store.events[i-1].Timestamp))
	}
}
