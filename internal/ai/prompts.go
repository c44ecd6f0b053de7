package ai

import (
	_ "embed"
	"text/template"
)

//go:embed prompts/extraction_instructions.md
var extractionInstructionsRaw string

//go:embed prompts/extraction.tmpl
var extractionPromptRaw string

// ExtractionInstructions is the fixed schema and rules block appended to every
// extraction prompt. Its fingerprint participates in change detection, so
// editing the file forces re-extraction of every site.
var ExtractionInstructions = extractionInstructionsRaw

// ExtractionTemplate renders criteria, content, site URL and instructions in that order.
var ExtractionTemplate = template.Must(template.New("extraction").Parse(extractionPromptRaw))
