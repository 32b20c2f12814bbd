package tags

import (
	"fmt"
	"math"
)

// Detection is an externally computed signal that a tag applies to a
// project. Detections are consumed once per resolution pass and never
// persisted directly.
type Detection struct {
	Tag        Tag      `json:"tag" yaml:"tag"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Evidence   []string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Validate rejects detections with an unknown tag or a confidence outside
// [0, 1].
func (d Detection) Validate() error {
	if !d.Tag.Valid() {
		return &ValidationError{Field: "detection tag", Value: string(d.Tag), Allowed: Strings(allTags)}
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return &ValidationError{Field: "detection confidence", Value: fmt.Sprintf("%v", d.Confidence), Allowed: []string{"0..1"}}
	}
	return nil
}

// SplitDetections separates usable detections from invalid ones. Detections
// come from external analyzers, so invalid entries are data-quality issues
// reported back to the caller, not fatal errors.
func SplitDetections(in []Detection) (valid []Detection, rejected []error) {
	valid = make([]Detection, 0, len(in))
	for _, d := range in {
		if err := d.Validate(); err != nil {
			rejected = append(rejected, err)
			continue
		}
		valid = append(valid, d)
	}
	return valid, rejected
}
