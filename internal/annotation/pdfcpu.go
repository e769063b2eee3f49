package annotation

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
)

// Field flags (PDF 32000-1, 12.7.3.1 and 12.7.4)
const (
	flagReadOnly   = 1
	flagRequired   = 1 << 1
	flagRadio      = 1 << 15
	flagPushbutton = 1 << 16
	flagCombo      = 1 << 17
)

// maxInheritanceDepth bounds Parent chain walks on malformed documents
const maxInheritanceDepth = 32

// PDFSource reads structured form metadata with pdfcpu. A pdfcpu context is not
// safe for concurrent use, so every access holds the mutex.
type PDFSource struct {
	mu  sync.Mutex
	ctx *model.Context

	indexed   bool
	pageObj   map[int]int // page object number -> page number
	annotPage map[int]int // annotation object number -> page number
}

// OpenPDF reads the document at path
func OpenPDF(path string) (*PDFSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer file.Close()

	return NewPDFSource(file)
}

// NewPDFSource reads the document from rs
func NewPDFSource(rs io.ReadSeeker) (*PDFSource, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}

	return &PDFSource{ctx: ctx}, nil
}

// PageCount returns the number of pages
func (s *PDFSource) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.PageCount
}

// PageHeight returns the media box height of a page in document units
func (s *PDFSource) PageHeight(page int) (float64, error) {
	_, h, err := s.PageSize(page)
	return h, err
}

// PageSize returns the media box width and height of a page in document units
func (s *PDFSource) PageSize(page int) (width, height float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPage(page); err != nil {
		return 0, 0, err
	}
	_, _, inh, err := s.ctx.PageDict(page, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read page %d: %w", page, err)
	}
	if inh == nil || inh.MediaBox == nil {
		return 0, 0, fmt.Errorf("page %d has no media box", page)
	}
	return inh.MediaBox.Width(), inh.MediaBox.Height(), nil
}

// StructuredFields returns the widget annotations on a page
func (s *PDFSource) StructuredFields(ctx context.Context, page int) ([]StructuredField, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPage(page); err != nil {
		return nil, err
	}
	pageDict, _, _, err := s.ctx.PageDict(page, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", page, err)
	}
	if pageDict == nil {
		return nil, nil
	}

	annotsObj, found := pageDict.Find("Annots")
	if !found {
		return nil, nil
	}
	annots, err := s.ctx.DereferenceArray(annotsObj)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference Annots array: %w", err)
	}

	var widgets []StructuredField
	for _, annotObj := range annots {
		annotDict, err := s.ctx.DereferenceDict(annotObj)
		if err != nil || annotDict == nil {
			continue
		}
		if !s.isWidget(annotDict) {
			continue
		}

		field := s.structuredField(annotDict)
		field.Page = page
		ft, flags := s.fieldType(annotDict)
		field.Type = ft
		field.Radio = ft == "Btn" && flags&flagRadio != 0
		widgets = append(widgets, field)
	}
	return widgets, nil
}

// FieldRegistry walks the AcroForm field tree and returns its terminal fields
// keyed by fully qualified name
func (s *PDFSource) FieldRegistry(ctx context.Context) (map[string][]StructuredField, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rootDict, err := s.ctx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}

	registry := make(map[string][]StructuredField)

	acroFormObj, found := rootDict.Find("AcroForm")
	if !found {
		return registry, nil
	}
	acroFormDict, err := s.ctx.DereferenceDict(acroFormObj)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference AcroForm: %w", err)
	}
	if acroFormDict == nil {
		return registry, nil
	}

	fieldsObj, found := acroFormDict.Find("Fields")
	if !found {
		return registry, nil
	}
	fieldsArray, err := s.ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference Fields array: %w", err)
	}

	s.buildPageIndex()
	for _, fieldObj := range fieldsArray {
		s.walkField(fieldObj, 0, registry)
	}
	return registry, nil
}

func (s *PDFSource) walkField(fieldObj types.Object, depth int, registry map[string][]StructuredField) {
	if depth > maxInheritanceDepth {
		return
	}
	fieldDict, err := s.ctx.DereferenceDict(fieldObj)
	if err != nil || fieldDict == nil {
		return
	}

	type widget struct {
		dict  types.Dict
		objNr int
	}
	var widgets []widget

	if kidsObj, found := fieldDict.Find("Kids"); found {
		if kids, err := s.ctx.DereferenceArray(kidsObj); err == nil {
			for _, kidObj := range kids {
				kidDict, err := s.ctx.DereferenceDict(kidObj)
				if err != nil || kidDict == nil {
					continue
				}
				if _, named := kidDict.Find("T"); named {
					s.walkField(kidObj, depth+1, registry)
					continue
				}
				widgets = append(widgets, widget{dict: kidDict, objNr: objectNumber(kidObj)})
			}
		}
	}

	// Terminal field: either merged with its widget or owning widget kids
	if _, hasRect := fieldDict.Find("Rect"); hasRect {
		widgets = append([]widget{{dict: fieldDict, objNr: objectNumber(fieldObj)}}, widgets...)
	}
	if len(widgets) == 0 {
		return
	}

	ft, flags := s.fieldType(fieldDict)
	typeName := registryTypeName(ft, flags)
	for _, w := range widgets {
		field := s.structuredField(w.dict)
		field.Type = typeName
		field.Page = s.widgetPage(w.dict, w.objNr)
		registry[field.Name] = append(registry[field.Name], field)
	}
}

// structuredField reads the attributes shared by widgets and registry entries,
// following the Parent chain for inheritable entries
func (s *PDFSource) structuredField(dict types.Dict) StructuredField {
	field := StructuredField{
		Name: s.fullName(dict),
		Rect: s.rect(dict),
	}

	_, flags := s.fieldType(dict)
	field.ReadOnly = flags&flagReadOnly != 0
	field.Required = flags&flagRequired != 0

	if v, ok := s.inherited(dict, "V"); ok {
		field.Value = s.valueString(v)
	}
	if opt, ok := s.inherited(dict, "Opt"); ok {
		field.Options = s.options(opt)
	}
	return field
}

func (s *PDFSource) isWidget(dict types.Dict) bool {
	if subtype, found := dict.Find("Subtype"); found {
		if name, err := s.ctx.DereferenceName(subtype, model.V10, nil); err == nil && name == "Widget" {
			return true
		}
	}
	_, hasFT := s.inherited(dict, "FT")
	return hasFT
}

// fieldType returns the inherited FT and Ff entries
func (s *PDFSource) fieldType(dict types.Dict) (string, int) {
	var ft string
	if obj, ok := s.inherited(dict, "FT"); ok {
		if name, err := s.ctx.DereferenceName(obj, model.V10, nil); err == nil {
			ft = string(name)
		}
	}
	var flags int
	if obj, ok := s.inherited(dict, "Ff"); ok {
		if ff, err := s.ctx.DereferenceInteger(obj); err == nil && ff != nil {
			flags = int(*ff)
		}
	}
	return ft, flags
}

// inherited looks key up on dict and then on its ancestors
func (s *PDFSource) inherited(dict types.Dict, key string) (types.Object, bool) {
	for depth := 0; dict != nil && depth <= maxInheritanceDepth; depth++ {
		if obj, found := dict.Find(key); found {
			return obj, true
		}
		parentObj, found := dict.Find("Parent")
		if !found {
			break
		}
		parent, err := s.ctx.DereferenceDict(parentObj)
		if err != nil {
			break
		}
		dict = parent
	}
	return nil, false
}

// fullName joins the partial names of the field and its ancestors with "."
func (s *PDFSource) fullName(dict types.Dict) string {
	var parts []string
	for depth := 0; dict != nil && depth <= maxInheritanceDepth; depth++ {
		if obj, found := dict.Find("T"); found {
			if name, err := s.ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil && name != "" {
				parts = append([]string{name}, parts...)
			}
		}
		parentObj, found := dict.Find("Parent")
		if !found {
			break
		}
		parent, err := s.ctx.DereferenceDict(parentObj)
		if err != nil {
			break
		}
		dict = parent
	}
	return strings.Join(parts, ".")
}

func (s *PDFSource) rect(dict types.Dict) geometry.Rect {
	rectObj, found := dict.Find("Rect")
	if !found {
		return geometry.Rect{}
	}
	arr, err := s.ctx.DereferenceArray(rectObj)
	if err != nil || len(arr) != 4 {
		return geometry.Rect{}
	}

	coords := make([]float64, 4)
	for i, coord := range arr {
		if f, err := s.ctx.DereferenceNumber(coord); err == nil {
			coords[i] = f
		}
	}
	return geometry.NewRect(coords[0], coords[1], coords[2], coords[3])
}

// valueString renders a V entry: a string, a name, or an array of strings
func (s *PDFSource) valueString(obj types.Object) string {
	if str, err := s.ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil {
		return str
	}
	if name, err := s.ctx.DereferenceName(obj, model.V10, nil); err == nil {
		return string(name)
	}
	if arr, err := s.ctx.DereferenceArray(obj); err == nil {
		var values []string
		for _, item := range arr {
			if str, err := s.ctx.DereferenceStringOrHexLiteral(item, model.V10, nil); err == nil {
				values = append(values, str)
			}
		}
		return strings.Join(values, ", ")
	}
	return ""
}

// options reads an Opt array; [export, display] pairs yield the display value
func (s *PDFSource) options(obj types.Object) []string {
	arr, err := s.ctx.DereferenceArray(obj)
	if err != nil {
		return nil
	}

	var options []string
	for _, opt := range arr {
		if str, err := s.ctx.DereferenceStringOrHexLiteral(opt, model.V10, nil); err == nil {
			options = append(options, str)
		} else if pair, err := s.ctx.DereferenceArray(opt); err == nil && len(pair) >= 2 {
			if display, err := s.ctx.DereferenceStringOrHexLiteral(pair[1], model.V10, nil); err == nil {
				options = append(options, display)
			}
		}
	}
	return options
}

// widgetPage resolves the page of a widget from its P entry, then from page
// Annots membership. Zero means unknown.
func (s *PDFSource) widgetPage(widget types.Dict, objNr int) int {
	if pObj, found := widget.Find("P"); found {
		if page, ok := s.pageObj[objectNumber(pObj)]; ok {
			return page
		}
	}
	if page, ok := s.annotPage[objNr]; ok {
		return page
	}
	return 0
}

// buildPageIndex maps page and annotation object numbers to page numbers
func (s *PDFSource) buildPageIndex() {
	if s.indexed {
		return
	}
	s.indexed = true
	s.pageObj = make(map[int]int)
	s.annotPage = make(map[int]int)

	for page := 1; page <= s.ctx.PageCount; page++ {
		pageDict, pageRef, _, err := s.ctx.PageDict(page, false)
		if err != nil || pageDict == nil {
			continue
		}
		if pageRef != nil {
			s.pageObj[int(pageRef.ObjectNumber)] = page
		}
		annotsObj, found := pageDict.Find("Annots")
		if !found {
			continue
		}
		annots, err := s.ctx.DereferenceArray(annotsObj)
		if err != nil {
			continue
		}
		for _, a := range annots {
			if objNr := objectNumber(a); objNr > 0 {
				s.annotPage[objNr] = page
			}
		}
	}
}

func (s *PDFSource) checkPage(page int) error {
	if page < 1 || page > s.ctx.PageCount {
		return fmt.Errorf("invalid page number %d (document has %d pages)", page, s.ctx.PageCount)
	}
	return nil
}

// registryTypeName names a terminal field's type the way the registry reports it
func registryTypeName(ft string, flags int) string {
	switch ft {
	case "Tx":
		return "text"
	case "Btn":
		switch {
		case flags&flagRadio != 0:
			return "radiobutton"
		case flags&flagPushbutton != 0:
			return "pushbutton"
		default:
			return "checkbox"
		}
	case "Ch":
		if flags&flagCombo != 0 {
			return "combobox"
		}
		return "listbox"
	case "Sig":
		return "signature"
	default:
		return ""
	}
}

// objectNumber returns the object number of an indirect reference, or 0
func objectNumber(obj types.Object) int {
	switch ref := obj.(type) {
	case types.IndirectRef:
		return int(ref.ObjectNumber)
	case *types.IndirectRef:
		if ref != nil {
			return int(ref.ObjectNumber)
		}
	}
	return 0
}
