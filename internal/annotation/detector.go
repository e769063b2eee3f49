// Package annotation turns the structured form metadata embedded in a document
// into field records. It never guesses: every record mirrors an entry the
// document itself declares.
package annotation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
)

// StructuredField is one form field entry as declared by the document.
//
// Type holds the widget field type (Tx, Btn, Ch, Sig) for page annotations, and
// the registry type name (text, checkbox, radiobutton, combobox, listbox,
// signature) for registry entries.
type StructuredField struct {
	Name     string
	Type     string
	Radio    bool // widget explicitly marked as a radio button
	Rect     geometry.Rect
	Page     int
	Value    string
	Options  []string
	Required bool
	ReadOnly bool
}

// Source exposes a document's structured form metadata
type Source interface {
	// StructuredFields returns the widget annotations of a page
	StructuredFields(ctx context.Context, page int) ([]StructuredField, error)
	// FieldRegistry returns the document-level field registry keyed by field name
	FieldRegistry(ctx context.Context) (map[string][]StructuredField, error)
}

// widgetKinds maps widget field types; Btn is resolved separately
var widgetKinds = map[string]fields.Kind{
	"Tx":  fields.KindText,
	"Ch":  fields.KindDropdown,
	"Sig": fields.KindSignature,
}

var registryKinds = map[string]fields.Kind{
	"text":        fields.KindText,
	"checkbox":    fields.KindCheckbox,
	"radiobutton": fields.KindRadio,
	"combobox":    fields.KindDropdown,
	"listbox":     fields.KindDropdown,
	"signature":   fields.KindSignature,
}

// WidgetKind maps a widget field type to a kind. Btn is a radio only when
// explicitly marked as one. Unknown types map to text.
func WidgetKind(fieldType string, radio bool) fields.Kind {
	if fieldType == "Btn" {
		if radio {
			return fields.KindRadio
		}
		return fields.KindCheckbox
	}
	if kind, ok := widgetKinds[fieldType]; ok {
		return kind
	}
	return fields.KindText
}

// RegistryKind maps a registry type name to a kind. Unknown names map to text.
func RegistryKind(typeName string) fields.Kind {
	if kind, ok := registryKinds[typeName]; ok {
		return kind
	}
	return fields.KindText
}

// Detector converts a Source into field records
type Detector struct {
	source Source
	logger *slog.Logger
}

// NewDetector creates a detector reading from source. A nil source yields
// no records.
func NewDetector(source Source, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{source: source, logger: logger.With("detector", "annotation")}
}

// Detect returns the structured fields of a page. The page's widget annotations
// are read first; when there are none the document registry is consulted and
// filtered to the page. Failures of either source yield an empty list.
func (d *Detector) Detect(ctx context.Context, page int) (records []fields.Record) {
	if d.source == nil {
		return nil
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("structured metadata unreadable", "page", page, "error", fmt.Sprint(r))
			records = nil
		}
	}()

	widgets, err := d.source.StructuredFields(ctx, page)
	if err != nil {
		d.logger.Debug("page annotations unavailable", "page", page, "error", err)
	}
	if len(widgets) > 0 {
		records = d.fromWidgets(page, widgets)
	} else {
		records = d.fromRegistry(ctx, page)
	}

	d.logger.Debug("structured fields detected", "page", page, "count", len(records), "duration", time.Since(start))
	return records
}

func (d *Detector) fromWidgets(page int, widgets []StructuredField) []fields.Record {
	records := make([]fields.Record, 0, len(widgets))
	for i, w := range widgets {
		records = append(records, newRecord(page, i, WidgetKind(w.Type, w.Radio), w))
	}
	return records
}

func (d *Detector) fromRegistry(ctx context.Context, page int) []fields.Record {
	registry, err := d.source.FieldRegistry(ctx)
	if err != nil {
		d.logger.Debug("field registry unavailable", "page", page, "error", err)
		return nil
	}

	var records []fields.Record
	for _, name := range sortedNames(registry) {
		for _, entry := range registry[name] {
			if entry.Page != page {
				continue
			}
			if entry.Name == "" {
				entry.Name = name
			}
			records = append(records, newRecord(page, len(records), RegistryKind(entry.Type), entry))
		}
	}
	return records
}

func newRecord(page, index int, kind fields.Kind, f StructuredField) fields.Record {
	r := fields.New(kind, f.Rect, fields.ConfidenceHigh, fields.MethodStructuredAnnotation)
	r.Page = page
	r.Name = f.Name
	r.Value = f.Value
	if len(f.Options) > 0 {
		r.Options = append([]string(nil), f.Options...)
	}
	r.Required = f.Required
	r.ReadOnly = f.ReadOnly
	if kind == fields.KindRadio {
		r.GroupName = f.Name
		if r.GroupName == "" {
			r.GroupName = fmt.Sprintf("radio_group_%d_%d", page, index)
		}
	}
	return r
}

func sortedNames(registry map[string][]StructuredField) []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
