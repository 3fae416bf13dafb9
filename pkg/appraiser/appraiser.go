// Package appraiser turns one cropped object image into a name, description
// and estimated price by asking a vision-language model.
//
// The model reply is free-form text that should contain one JSON object;
// anything unusable degrades to a fallback appraisal instead of an error:
// generic strings and a price drawn uniformly at random from
// [FallbackPriceMin, FallbackPriceMax]. The random source is injectable so
// tests can pin it.
package appraiser

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"inventory-service/pkg/client"
	"inventory-service/pkg/processing"
	"inventory-service/pkg/types"
)

// Prompt is the fixed instruction sent with every crop.
const Prompt = `Analyze the given image and come up with a name for the object in it (such as Bed and Mattress, Sofa, Television, etc.). Also come up with a short description of what the item is (such as King Sized Bed, Blue Cloth Sofa, Wide Ceiling Fan, etc.) and estimate the price of the object in USD. Return the value in the following JSON format: {"name": "<name>", "description": "<description>", "price": "$<price>"}. JSON only, no markdown, no code fences.`

// Fallback price bounds in USD, inclusive.
const (
	FallbackPriceMin = 100
	FallbackPriceMax = 500
)

const (
	defaultName        = "Unknown Item"
	defaultDescription = "No description available"

	sendFormat  = "jpg"
	sendMaxDim  = 1024
	sendQuality = 85
)

// Appraiser asks a vision model to appraise cropped object images.
type Appraiser struct {
	client    client.VisionClient
	model     string
	processor *processing.Processor
	randFloat func() float64 // uniform in [0,1)
}

// New creates an appraiser backed by the given vision client and model.
func New(c client.VisionClient, model string) *Appraiser {
	return &Appraiser{
		client:    c,
		model:     model,
		processor: processing.NewProcessor(),
		randFloat: rand.Float64,
	}
}

// SetRandSource replaces the random source used for fallback prices.
// The function must return values uniform in [0,1).
func (a *Appraiser) SetRandSource(f func() float64) {
	a.randFloat = f
}

// Appraise sends one crop to the vision model. A hard failure of the call
// itself (timeout, bad status, empty crop) is returned as an error for the
// caller to convert into a fallback; an unusable reply body is absorbed here
// and comes back as a fallback appraisal with nil error.
func (a *Appraiser) Appraise(ctx context.Context, crop image.Image, label string) (types.Appraisal, error) {
	imgB64, err := a.processor.EncodeForModel(crop, sendFormat, sendMaxDim, sendQuality)
	if err != nil {
		return types.Appraisal{}, fmt.Errorf("encode crop: %w", err)
	}

	text, err := a.client.Describe(ctx, a.model, Prompt, imgB64)
	if err != nil {
		return types.Appraisal{}, fmt.Errorf("vision model call: %w", err)
	}

	return a.ParseAppraisal(text, label), nil
}

type rawAppraisal struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       json.RawMessage `json:"price"`
}

// ParseAppraisal extracts an appraisal from the model's reply. It strips
// wrapper lines and fences, then decodes the remaining JSON. A reply with no
// usable JSON yields a full fallback; a missing, non-numeric or non-positive
// price yields a fallback price while keeping whatever name/description the
// model did return.
func (a *Appraiser) ParseAppraisal(text, label string) types.Appraisal {
	cleaned := sanitizeModelJSON(text)

	if !strings.HasPrefix(cleaned, "{") {
		return a.Fallback(label)
	}

	var raw rawAppraisal
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return a.Fallback(label)
	}

	result := types.Appraisal{
		Name:        strings.TrimSpace(raw.Name),
		Description: strings.TrimSpace(raw.Description),
	}
	if result.Name == "" {
		result.Name = nameForLabel(label)
	}
	if result.Description == "" {
		result.Description = defaultDescription
	}

	price, ok := parsePrice(raw.Price)
	if !ok || price <= 0 {
		price = a.fallbackPrice()
	}
	result.Price = price

	return result
}

// Fallback synthesizes a complete appraisal for an object the model could not
// be asked about or answered unusably.
func (a *Appraiser) Fallback(label string) types.Appraisal {
	return types.Appraisal{
		Name:        nameForLabel(label),
		Description: defaultDescription,
		Price:       a.fallbackPrice(),
	}
}

func (a *Appraiser) fallbackPrice() float64 {
	span := float64(FallbackPriceMax - FallbackPriceMin)
	return float64(FallbackPriceMin) + a.randFloat()*span
}

// parsePrice accepts a JSON number or a string like "$1,299.99".
func parsePrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, true
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, false
	}
	str = strings.TrimSpace(str)
	str = strings.TrimPrefix(str, "$")
	str = strings.ReplaceAll(str, ",", "")
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, false
	}

	num, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, false
	}
	return num, true
}

// nameForLabel derives a display name from a detection label, or the generic
// default when no label is known.
func nameForLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return defaultName
	}

	words := strings.Fields(strings.ToLower(label))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// sanitizeModelJSON removes code fences, comments and trailing commas, then
// keeps only the outermost JSON object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")

	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	return strings.TrimSpace(raw)
}
