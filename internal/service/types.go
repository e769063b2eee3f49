package service

import (
	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/pipeline"
)

// PageSpec names one page to analyze
type PageSpec struct {
	Page       int     `json:"page"`
	ImagePath  string  `json:"image_path,omitempty"`  // rendered page; blank canvas when empty
	PageHeight float64 `json:"page_height,omitempty"` // document units; from the PDF or the image when zero
}

// DetectFieldsRequest represents a request to detect form fields
type DetectFieldsRequest struct {
	PDFPath string     `json:"pdf_path,omitempty"`
	Pages   []PageSpec `json:"pages,omitempty"` // every PDF page when empty
	Scale   float64    `json:"scale,omitempty"` // raster pixels per document unit, config default when zero
}

// DetectFieldsResult represents the fused fields of every requested page
type DetectFieldsResult struct {
	FilePath    string                 `json:"file_path,omitempty"`
	TotalPages  int                    `json:"total_pages,omitempty"`
	Recognizer  string                 `json:"recognizer"`
	Pages       []*pipeline.PageResult `json:"pages"`
	TotalFields int                    `json:"total_fields"`
	Warnings    []string               `json:"warnings,omitempty"`
}

// StructuredFieldsRequest represents a request for the fields a PDF declares
type StructuredFieldsRequest struct {
	PDFPath string `json:"pdf_path"`
	Page    int    `json:"page,omitempty"` // every page when zero
}

// PageFields groups records by page
type PageFields struct {
	Page   int             `json:"page"`
	Fields []fields.Record `json:"fields"`
}

// StructuredFieldsResult represents the declared fields of a PDF
type StructuredFieldsResult struct {
	FilePath    string       `json:"file_path"`
	TotalPages  int          `json:"total_pages"`
	Pages       []PageFields `json:"pages"`
	TotalFields int          `json:"total_fields"`
}
