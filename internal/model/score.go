package model

// Bucket is the discrete priority tier derived from a score.
type Bucket string

const (
	BucketHot    Bucket = "HOT"
	BucketMedium Bucket = "MEDIUM"
	BucketWatch  Bucket = "WATCH"
)

// ScoreResult is a bounded score with its bucket and rationale trail.
// Scores are pure functions of current signals and enrichment facts.
type ScoreResult struct {
	Score     int      `json:"score"`
	Bucket    Bucket   `json:"bucket"`
	Rationale []string `json:"rationale,omitempty"`
}
