// Package label finds form fields from recognized text: known field labels
// ("NAME:", "PHONE NUMBER") get a field placed to their right, and runs of
// underscores become fields spanning their line.
package label

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

// maxWindow is the longest label, in words
const maxWindow = 3

var labelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(NAME|FIRST\s*NAME|LAST\s*NAME|FULL\s*NAME)[\s:]*$`),
	regexp.MustCompile(`(?i)^(ADDRESS|STREET|ADDR)[\s:]*$`),
	regexp.MustCompile(`(?i)^(CITY)[\s:]*$`),
	regexp.MustCompile(`(?i)^(STATE|ST)[\s:]*$`),
	regexp.MustCompile(`(?i)^(ZIP|ZIP\s*CODE|POSTAL\s*CODE)[\s:]*$`),
	regexp.MustCompile(`(?i)^(PHONE|TELEPHONE|TEL|PHONE\s*NUMBER)[\s:]*$`),
	regexp.MustCompile(`(?i)^(EMAIL|E-MAIL)[\s:]*$`),
	regexp.MustCompile(`(?i)^(DATE|DATE\s*OF\s*BIRTH|DOB|BIRTH\s*DATE)[\s:]*$`),
	regexp.MustCompile(`(?i)^(SIGNATURE|SIGN)[\s:]*$`),
	regexp.MustCompile(`(?i)^(RELATIONSHIP)[\s:]*$`),
	regexp.MustCompile(`(?i)^(EMERGENCY\s*CONTACT)[\s:]*$`),
	regexp.MustCompile(`(?i)^(BOROUGH)[\s:]*$`),
	regexp.MustCompile(`(?i)^(CENTER|REC\s*CENTER)[\s:]*$`),
}

var blankLine = regexp.MustCompile(`_{5,}`)

// IsLabel reports whether text is a known field label
func IsLabel(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, p := range labelPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Config controls field placement. Sizes are in document units.
type Config struct {
	FieldWidth  float64       // width of a field placed after a label
	FieldHeight float64       // height of every text field
	LabelGap    float64       // raster pixels between a label and its field
	Timeout     time.Duration // recognizer deadline, zero for none
}

// DefaultConfig returns the default placement
func DefaultConfig() Config {
	return Config{
		FieldWidth:  200,
		FieldHeight: 18,
		LabelGap:    10,
		Timeout:     60 * time.Second,
	}
}

// Detector runs a recognizer on a page and analyzes the result
type Detector struct {
	rec    ocr.Recognizer
	cfg    Config
	logger *slog.Logger
}

// New creates a detector. A nil recognizer yields no records.
func New(rec ocr.Recognizer, cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{rec: rec, cfg: cfg, logger: logger.With("detector", "label")}
}

// Detect recognizes the page and returns label and blank-line fields.
// A failing or timed out recognizer yields an empty list.
func (d *Detector) Detect(ctx context.Context, page *raster.Page) []fields.Record {
	return d.DetectWith(ctx, d.rec, page)
}

// DetectWith is Detect with rec in place of the detector's own recognizer
func (d *Detector) DetectWith(ctx context.Context, rec ocr.Recognizer, page *raster.Page) []fields.Record {
	if rec == nil || page.Empty() {
		return nil
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := rec.Recognize(ctx, page)
	if err != nil {
		d.logger.Warn("text recognition failed", "page", page.Number, "error", err, "duration", time.Since(start))
		return nil
	}
	if res == nil {
		return nil
	}

	records := Analyze(res, page.Number, page.Height, page.Scale, d.cfg)
	d.logger.Debug("text fields detected",
		"page", page.Number,
		"words", len(res.Words),
		"lines", len(res.Lines),
		"count", len(records),
		"duration", time.Since(start))
	return records
}

// Analyze turns a recognition result into field records: label fields first,
// in word order, then blank-line fields in line order
func Analyze(res *ocr.Result, pageNum int, pageHeight, scale float64, cfg Config) []fields.Record {
	records := labelFields(res.Words, pageNum, pageHeight, scale, cfg)
	return append(records, blankLineFields(res.Lines, pageNum, pageHeight, scale, cfg)...)
}

func labelFields(words []ocr.Word, pageNum int, pageHeight, scale float64, cfg Config) []fields.Record {
	var records []fields.Record
	consumed := make([]bool, len(words))

	for i := range words {
		if consumed[i] {
			continue
		}
		n, text, box := matchWindow(words, consumed, i)
		if n == 0 {
			continue
		}
		for j := i; j < i+n; j++ {
			consumed[j] = true
		}

		// The field starts just right of the label, top-aligned with the label's bottom edge.
		px := geometry.Rect{
			X0: box.X1 + cfg.LabelGap,
			Y0: box.Y1,
			X1: box.X1 + cfg.LabelGap + cfg.FieldWidth*scale,
			Y1: box.Y1 + cfg.FieldHeight*scale,
		}
		r := fields.New(fields.KindText, geometry.ToDocumentSpace(px, pageHeight, scale), fields.ConfidenceHigh, fields.MethodOCRLabel)
		r.Page = pageNum
		r.Label = text
		records = append(records, r)
	}
	return records
}

// matchWindow tests the longest window of words starting at i first. Windows
// never cross a line or a consumed word. It returns the window length, its text
// and its bounding box; length 0 means no match.
func matchWindow(words []ocr.Word, consumed []bool, i int) (int, string, geometry.Rect) {
	for n := maxWindow; n >= 1; n-- {
		if i+n > len(words) {
			continue
		}

		parts := make([]string, 0, n)
		box := words[i].Box
		ok := true
		for j := i; j < i+n; j++ {
			if consumed[j] || (j > i && !sameLine(words[i], words[j])) {
				ok = false
				break
			}
			parts = append(parts, strings.TrimSpace(words[j].Text))
			box = box.Union(words[j].Box)
		}
		if !ok {
			continue
		}

		text := strings.TrimSpace(strings.Join(parts, " "))
		if IsLabel(text) {
			return n, text, box
		}
	}
	return 0, "", geometry.Rect{}
}

func sameLine(a, b ocr.Word) bool {
	return a.Line >= 0 && a.Line == b.Line
}

func blankLineFields(lines []ocr.Line, pageNum int, pageHeight, scale float64, cfg Config) []fields.Record {
	var records []fields.Record
	for _, line := range lines {
		if !blankLine.MatchString(line.Text) {
			continue
		}
		px := geometry.Rect{
			X0: line.Box.X0,
			Y0: line.Box.Y1,
			X1: line.Box.X1,
			Y1: line.Box.Y1 + cfg.FieldHeight*scale,
		}
		r := fields.New(fields.KindText, geometry.ToDocumentSpace(px, pageHeight, scale), fields.ConfidenceMedium, fields.MethodOCRBlankLine)
		r.Page = pageNum
		records = append(records, r)
	}
	return records
}
