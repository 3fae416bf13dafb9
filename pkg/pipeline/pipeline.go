// Package pipeline sequences the inventory run: decode the photo, locate
// objects, crop and appraise each one, and assemble the priced inventory in
// the locator's order.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inventory-service/pkg/processing"
	"inventory-service/pkg/types"
)

const (
	// DefaultWorkers bounds concurrent appraisal calls per run.
	DefaultWorkers = 4

	cropQuality = 90
)

// ObjectLocator finds objects in a decoded image. Implemented by the
// detection service client.
type ObjectLocator interface {
	Locate(ctx context.Context, img image.Image) ([]types.Detection, error)
}

// ItemAppraiser prices one cropped object. Implemented by the vision model
// appraiser.
type ItemAppraiser interface {
	Appraise(ctx context.Context, crop image.Image, label string) (types.Appraisal, error)
	Fallback(label string) types.Appraisal
}

// Pipeline runs the detect, crop, appraise, aggregate sequence. It holds no
// per-run state; every Run is independent.
type Pipeline struct {
	locator   ObjectLocator
	appraiser ItemAppraiser
	processor *processing.Processor
	workers   int
	log       zerolog.Logger
}

// New creates a pipeline. workers bounds the number of concurrent appraisal
// calls; values below 1 fall back to DefaultWorkers.
func New(locator ObjectLocator, appraiser ItemAppraiser, workers int, log zerolog.Logger) *Pipeline {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Pipeline{
		locator:   locator,
		appraiser: appraiser,
		processor: processing.NewProcessor(),
		workers:   workers,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Run turns one raw photo into an ordered inventory. Decode and locate
// failures abort the run; every appraisal failure is isolated into a fallback
// entry at the same position, so one flaky call never fails the whole
// inventory.
func (p *Pipeline) Run(ctx context.Context, raw []byte) ([]types.InventoryItem, error) {
	start := time.Now()

	img, err := p.processor.Decode(raw)
	if err != nil {
		return nil, err
	}

	detections, err := p.locator.Locate(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		p.log.Info().Msg("no objects detected")
		return []types.InventoryItem{}, nil
	}

	items := make([]types.InventoryItem, len(detections))
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i, det := range detections {
		wg.Add(1)
		go func(i int, det types.Detection) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			items[i] = p.processItem(ctx, img, det)
		}(i, det)
	}
	wg.Wait()

	p.log.Info().
		Int("items", len(items)).
		Dur("elapsed", time.Since(start)).
		Msg("inventory run completed")

	return items, nil
}

// processItem crops and appraises one detection. Each result lands at its
// detection's index, so completion order never changes output order.
func (p *Pipeline) processItem(ctx context.Context, img image.Image, det types.Detection) types.InventoryItem {
	crop := p.processor.Crop(img, det.Box)

	var appraisal types.Appraisal
	if err := ctx.Err(); err != nil {
		appraisal = p.appraiser.Fallback(det.Label)
	} else {
		var err error
		appraisal, err = p.appraiser.Appraise(ctx, crop, det.Label)
		if err != nil {
			p.log.Warn().
				Err(err).
				Str("detection_id", det.ID).
				Str("label", det.Label).
				Msg("appraisal failed, using fallback")
			appraisal = p.appraiser.Fallback(det.Label)
		}
	}

	return types.InventoryItem{
		DetectionID:    det.ID,
		Label:          det.Label,
		Confidence:     det.Confidence,
		Name:           appraisal.Name,
		Description:    appraisal.Description,
		EstimatedPrice: appraisal.Price,
		ImageURL:       p.processor.DataURL(crop, cropQuality),
	}
}

// Analyze appraises a whole photo as a single item, without detection.
func (p *Pipeline) Analyze(ctx context.Context, raw []byte) (types.Appraisal, error) {
	img, err := p.processor.Decode(raw)
	if err != nil {
		return types.Appraisal{}, err
	}

	appraisal, err := p.appraiser.Appraise(ctx, img, "")
	if err != nil {
		return types.Appraisal{}, fmt.Errorf("image analysis failed: %w", err)
	}
	return appraisal, nil
}
