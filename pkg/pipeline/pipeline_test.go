package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-service/pkg/locator"
	"inventory-service/pkg/processing"
	"inventory-service/pkg/types"
)

type stubLocator struct {
	detections []types.Detection
	err        error
}

func (s *stubLocator) Locate(ctx context.Context, img image.Image) ([]types.Detection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.detections, nil
}

// stubAppraiser answers per label, with optional per-label delays and errors.
// Appraising a zero-area crop fails, like the real appraiser.
type stubAppraiser struct {
	mu        sync.Mutex
	appraised []string

	results map[string]types.Appraisal
	errs    map[string]error
	delays  map[string]time.Duration
}

func (s *stubAppraiser) Appraise(ctx context.Context, crop image.Image, label string) (types.Appraisal, error) {
	if d, ok := s.delays[label]; ok {
		time.Sleep(d)
	}

	s.mu.Lock()
	s.appraised = append(s.appraised, label)
	s.mu.Unlock()

	if crop.Bounds().Empty() {
		return types.Appraisal{}, fmt.Errorf("encode crop: empty image")
	}
	if err, ok := s.errs[label]; ok {
		return types.Appraisal{}, err
	}
	if result, ok := s.results[label]; ok {
		return result, nil
	}
	return types.Appraisal{Name: label, Description: "stub", Price: 10}, nil
}

func (s *stubAppraiser) Fallback(label string) types.Appraisal {
	return types.Appraisal{
		Name:        "Unknown Item",
		Description: "No description available",
		Price:       250, // mid fallback range
	}
}

func testPhoto(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func detection(label string, conf float64, box types.Box) types.Detection {
	return types.Detection{ID: label + "-id", Label: label, Confidence: conf, Box: box}
}

func TestRunScenarioSofaAndLamp(t *testing.T) {
	loc := &stubLocator{detections: []types.Detection{
		detection("sofa", 0.9, types.Box{XMin: 0, XMax: 0.5, YMin: 0, YMax: 1}),
		detection("lamp", 0.8, types.Box{XMin: 0.5, XMax: 1, YMin: 0, YMax: 1}),
	}}
	app := &stubAppraiser{
		results: map[string]types.Appraisal{
			"sofa": {Name: "Sofa", Description: "Blue sofa", Price: 300},
		},
		errs: map[string]error{
			"lamp": fmt.Errorf("network error"),
		},
	}

	p := New(loc, app, 4, zerolog.Nop())
	items, err := p.Run(context.Background(), testPhoto(t, 200, 200))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "sofa", items[0].Label)
	assert.Equal(t, 0.9, items[0].Confidence)
	assert.Equal(t, "Sofa", items[0].Name)
	assert.Equal(t, "Blue sofa", items[0].Description)
	assert.Equal(t, 300.0, items[0].EstimatedPrice)
	assert.NotEmpty(t, items[0].ImageURL)

	assert.Equal(t, "lamp", items[1].Label)
	assert.Equal(t, 0.8, items[1].Confidence)
	assert.Equal(t, "Unknown Item", items[1].Name)
	assert.Equal(t, "No description available", items[1].Description)
	assert.GreaterOrEqual(t, items[1].EstimatedPrice, 100.0)
	assert.LessOrEqual(t, items[1].EstimatedPrice, 500.0)
}

func TestRunPreservesLocatorOrderUnderConcurrency(t *testing.T) {
	var detections []types.Detection
	delays := map[string]time.Duration{}
	results := map[string]types.Appraisal{}

	// Earlier detections finish last, so completion order inverts
	n := 8
	for i := 0; i < n; i++ {
		label := fmt.Sprintf("item%d", i)
		detections = append(detections, detection(label, 0.5, types.Box{
			XMin: 0, XMax: 1, YMin: 0, YMax: 1,
		}))
		delays[label] = time.Duration(n-i) * 10 * time.Millisecond
		results[label] = types.Appraisal{Name: label, Description: "d", Price: float64(i + 1)}
	}

	p := New(&stubLocator{detections: detections}, &stubAppraiser{delays: delays, results: results}, 4, zerolog.Nop())
	items, err := p.Run(context.Background(), testPhoto(t, 100, 100))
	require.NoError(t, err)
	require.Len(t, items, n)

	for i, item := range items {
		assert.Equal(t, fmt.Sprintf("item%d", i), item.Label, "item at position %d out of order", i)
		assert.Equal(t, float64(i+1), item.EstimatedPrice)
	}
}

func TestRunLocatorFailureAbortsRun(t *testing.T) {
	loc := &stubLocator{err: fmt.Errorf("%w: connection timed out", locator.ErrLocator)}
	p := New(loc, &stubAppraiser{}, 4, zerolog.Nop())

	items, err := p.Run(context.Background(), testPhoto(t, 100, 100))
	require.ErrorIs(t, err, locator.ErrLocator)
	assert.Nil(t, items)
}

func TestRunDecodeFailureAbortsRun(t *testing.T) {
	p := New(&stubLocator{}, &stubAppraiser{}, 4, zerolog.Nop())

	_, err := p.Run(context.Background(), []byte("not an image"))
	require.ErrorIs(t, err, processing.ErrDecode)
}

func TestRunNoDetectionsYieldsEmptyInventory(t *testing.T) {
	p := New(&stubLocator{detections: []types.Detection{}}, &stubAppraiser{}, 4, zerolog.Nop())

	items, err := p.Run(context.Background(), testPhoto(t, 100, 100))
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestRunItemCountMatchesDetections(t *testing.T) {
	var detections []types.Detection
	for i := 0; i < 5; i++ {
		detections = append(detections, detection(fmt.Sprintf("obj%d", i), 0.6, types.Box{
			XMin: 0.1, XMax: 0.9, YMin: 0.1, YMax: 0.9,
		}))
	}

	p := New(&stubLocator{detections: detections}, &stubAppraiser{}, 2, zerolog.Nop())
	items, err := p.Run(context.Background(), testPhoto(t, 100, 100))
	require.NoError(t, err)
	assert.Len(t, items, len(detections))
}

func TestRunDegenerateBoxGetsFallbackEntry(t *testing.T) {
	loc := &stubLocator{detections: []types.Detection{
		detection("ok", 0.9, types.Box{XMin: 0, XMax: 1, YMin: 0, YMax: 1}),
		detection("point", 0.4, types.Box{XMin: 0.5, XMax: 0.5, YMin: 0.5, YMax: 0.5}),
	}}
	app := &stubAppraiser{
		results: map[string]types.Appraisal{
			"ok": {Name: "Ok", Description: "fine", Price: 42},
		},
	}

	p := New(loc, app, 4, zerolog.Nop())
	items, err := p.Run(context.Background(), testPhoto(t, 100, 100))
	require.NoError(t, err)
	require.Len(t, items, 2)

	// The zero-area crop still produced an entry, just a degraded one
	assert.Equal(t, "point", items[1].Label)
	assert.Equal(t, "Unknown Item", items[1].Name)
	assert.Empty(t, items[1].ImageURL)

	// And it did not disturb its neighbor
	assert.Equal(t, "Ok", items[0].Name)
	assert.Equal(t, 42.0, items[0].EstimatedPrice)
}

func TestRunWorkerBoundIsRespected(t *testing.T) {
	const workers = 2

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	app := &trackingAppraiser{onAppraise: func() {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	}}

	var detections []types.Detection
	for i := 0; i < 6; i++ {
		detections = append(detections, detection(fmt.Sprintf("x%d", i), 0.5, types.Box{
			XMin: 0, XMax: 1, YMin: 0, YMax: 1,
		}))
	}

	p := New(&stubLocator{detections: detections}, app, workers, zerolog.Nop())
	_, err := p.Run(context.Background(), testPhoto(t, 60, 60))
	require.NoError(t, err)

	assert.LessOrEqual(t, maxInFlight, workers)
}

type trackingAppraiser struct {
	onAppraise func()
}

func (a *trackingAppraiser) Appraise(ctx context.Context, crop image.Image, label string) (types.Appraisal, error) {
	a.onAppraise()
	return types.Appraisal{Name: label, Description: "d", Price: 1}, nil
}

func (a *trackingAppraiser) Fallback(label string) types.Appraisal {
	return types.Appraisal{Name: "Unknown Item", Description: "No description available", Price: 250}
}

func TestAnalyzeWholeImage(t *testing.T) {
	app := &stubAppraiser{
		results: map[string]types.Appraisal{
			"": {Name: "Bedroom", Description: "Furnished bedroom", Price: 1200},
		},
	}

	p := New(&stubLocator{}, app, 4, zerolog.Nop())
	got, err := p.Analyze(context.Background(), testPhoto(t, 120, 90))
	require.NoError(t, err)
	assert.Equal(t, "Bedroom", got.Name)
	assert.Equal(t, 1200.0, got.Price)
}

func TestAnalyzeDecodeFailure(t *testing.T) {
	p := New(&stubLocator{}, &stubAppraiser{}, 4, zerolog.Nop())

	_, err := p.Analyze(context.Background(), []byte{0x00, 0x01})
	require.ErrorIs(t, err, processing.ErrDecode)
}
