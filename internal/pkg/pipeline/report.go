package pipeline

import "fmt"

// Report counts what one chunk handler did
type Report struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Add merges another report into r
func (r *Report) Add(other Report) {
	r.Processed += other.Processed
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

func (r Report) String() string {
	return fmt.Sprintf("processed=%d updated=%d skipped=%d failed=%d", r.Processed, r.Updated, r.Skipped, r.Failed)
}
