// Package fields defines the record every detector emits and the fusion stage consumes.
package fields

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
)

// Kind is the type of form field a record describes
type Kind string

const (
	KindText      Kind = "text"
	KindCheckbox  Kind = "checkbox"
	KindRadio     Kind = "radio"
	KindDropdown  Kind = "dropdown"
	KindSignature Kind = "signature"
)

// Method identifies which detector produced a record
type Method string

const (
	MethodStructuredAnnotation Method = "structured-annotation"
	MethodOCRLabel             Method = "ocr-label"
	MethodOCRBlankLine         Method = "ocr-blank-line"
	MethodPixelHorizontalLine  Method = "pixel-horizontal-line"
	MethodPixelCheckbox        Method = "pixel-checkbox-pattern"
)

// Confidence is an ordered tier; higher values are more trusted
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

// String returns the tier name
func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Score returns the nominal numeric score of a tier, used by detectors
// that do not compute one themselves
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMedium:
		return 0.6
	default:
		return 0.3
	}
}

// MarshalText encodes the tier by name
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a tier name
func (c *Confidence) UnmarshalText(text []byte) error {
	parsed, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseConfidence parses a tier name, case-insensitively
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ConfidenceLow, nil
	case "medium":
		return ConfidenceMedium, nil
	case "high":
		return ConfidenceHigh, nil
	default:
		return ConfidenceLow, fmt.Errorf("unknown confidence tier: %q", s)
	}
}

// Record is one candidate form field in document coordinate space
type Record struct {
	ID         string        `json:"id"`
	Page       int           `json:"page"`
	Kind       Kind          `json:"kind"`
	Rect       geometry.Rect `json:"rect"`
	Confidence Confidence    `json:"confidence"`
	Score      float64       `json:"score"`
	Method     Method        `json:"detection_method"`
	Label      string        `json:"label,omitempty"`
	GroupName  string        `json:"group_name,omitempty"`

	// Attributes only structured annotations carry
	Name     string   `json:"name,omitempty"`
	Value    string   `json:"value,omitempty"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required,omitempty"`
	ReadOnly bool     `json:"read_only,omitempty"`
}

// New creates a record with a fresh identifier and the tier's nominal score
func New(kind Kind, rect geometry.Rect, confidence Confidence, method Method) Record {
	return Record{
		ID:         NewID(),
		Kind:       kind,
		Rect:       rect.Normalize(),
		Confidence: confidence,
		Score:      confidence.Score(),
		Method:     method,
	}
}

// NewID returns an opaque, time-sortable identifier that is never reused
func NewID() string {
	return "fld_" + uuid.Must(uuid.NewV7()).String()
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	if r.Options != nil {
		r.Options = append([]string(nil), r.Options...)
	}
	return r
}

// String returns a short description used in logs and text output
func (r Record) String() string {
	s := fmt.Sprintf("%s %s %s conf=%s", r.Kind, r.Method, r.Rect, r.Confidence)
	if r.Label != "" {
		s += fmt.Sprintf(" label=%q", r.Label)
	}
	if r.Name != "" {
		s += fmt.Sprintf(" name=%q", r.Name)
	}
	return s
}

// CloneAll deep-copies a slice of records
func CloneAll(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
