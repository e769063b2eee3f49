package descriptions

// Tool descriptions with practical examples and use cases

// Tool names
const (
	ToolDetectFields     = "pdf_detect_fields"
	ToolStructuredFields = "pdf_structured_fields"
	ToolServerInfo       = "pdf_server_info"
)

const (
	PDFDetectFieldsDescription = `Find every fillable form field on PDF pages or scanned page images.

**When to use:** Need to know where a form expects input, including forms that were printed and scanned or that never had interactive fields.

**How it works:** Declared AcroForm fields are combined with fields inferred from text labels such as "Name:" or "Date of Birth", blank underscore runs, drawn underlines and empty checkbox outlines. Overlapping findings are merged and the strongest evidence wins. Coordinates are PDF units with the origin at the bottom left of the page.

**Examples:**
• Interactive form: "Detect fields in application.pdf"
• Scanned page: "Detect fields on page 1 using image_path scans/page1.png at scale 2"
• Single page of a long form: "Detect fields on page 3 of tax-return.pdf as json"

**Common workflows:**
1. Form filling: Detect fields → Ask the user for each label → Write values at each rectangle
2. Scan digitization: Render pages → Detect fields per image → Build a fillable template
3. Review: pdf_structured_fields → pdf_detect_fields → Compare declared and visual fields

**Best practices:** Provide image_path for scanned documents; without an image only declared fields and the PDF's own text contribute. Check warnings for recognizer fallbacks and per-detector failures.`

	PDFStructuredFieldsDescription = `List the form fields a PDF declares in its AcroForm.

**When to use:** The PDF is an interactive form and you need field names, types, current values, options and flags.

**Why it's useful:** Declared fields are exact. No text recognition or image analysis is involved, so results are fast and certain.

**Examples:**
• Inspect a form: "List the fields of w9.pdf"
• Check one page: "Which fields are on page 2 of enrollment.pdf"
• Export: "Get the declared fields of claim.pdf as json"

**Common workflows:**
1. Form filling: List fields → Map data to field names → Fill with another tool
2. Form audit: List fields → Check required and read-only flags → Report gaps

**Best practices:** A document that declares no fields may still be a form; use pdf_detect_fields for printed or scanned forms.`

	PDFServerInfoDescription = `Get server status, detection settings and the form documents available to process.

**When to use:** At the start of a session, to learn the configured directory, the active text recognizer and which files can be analyzed.

**Examples:**
• Discovery: "What forms can you read?"
• Troubleshooting: "Which text recognizer is configured?"

**Best practices:** Directory listings are cached for a few minutes and limited in depth and size; paths in the listing can be passed directly to the other tools.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	ToolDetectFields:     PDFDetectFieldsDescription,
	ToolStructuredFields: PDFStructuredFieldsDescription,
	ToolServerInfo:       PDFServerInfoDescription,
}

// GetToolDescription returns the description for a specific tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns all available tool names
func GetAllToolNames() []string {
	return []string{ToolDetectFields, ToolStructuredFields, ToolServerInfo}
}
