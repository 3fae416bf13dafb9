package types

// Box is a normalized bounding box with every coordinate in the [0,1] range,
// as returned by the object detection service.
type Box struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Detection is one located object. Detections keep the exact order the
// detection service returned them in; that order correlates each detection
// with its crop and appraisal through the whole pipeline. ID is assigned
// locally at locate time.
type Detection struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Appraisal holds the vision model's verdict for one cropped object.
//
// When the model call fails or returns unusable data, a fallback appraisal is
// substituted: generic name/description and a price drawn uniformly at random
// from [100,500]. The fallback price is a declared randomized default, not a
// measurement.
type Appraisal struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// InventoryItem is the final per-object record: one detection zipped with its
// (possibly fallback) appraisal. ImageURL carries the crop as an inline data
// URL; it is empty when the crop degenerated to zero area.
type InventoryItem struct {
	DetectionID    string  `json:"detection_id"`
	Label          string  `json:"label"`
	Confidence     float64 `json:"confidence"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	EstimatedPrice float64 `json:"estimated_price"`
	ImageURL       string  `json:"image_url,omitempty"`
}
