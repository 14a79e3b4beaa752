package models

// Recommendation labels derived from the numeric score.
const (
	LabelRecommended = "Recommended"
	LabelGoodFit     = "Good Fit"
)

// FeedEntry is a derived projection of a claimable job for one technician.
// It is recomputed on every feed call and never persisted.
type FeedEntry struct {
	Job   Job     `json:"job"`
	Score float64 `json:"score"`
	Label string  `json:"label,omitempty"`
}
