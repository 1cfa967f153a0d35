package llm

import (
	"strconv"
	"strings"
)

// Prompt variants for the extraction call. Multi-page wording takes
// precedence over the handwritten-specific wording when both apply.

const promptPreamble = "You are a document intake parser. Extract the requested fields from the attached document and return ONLY a JSON object matching the provided schema. " +
	"Dates use DD.MM.YYYY, times use HH:MM (24h), postal codes are 5 digits. " +
	"For every extracted field add an entry to confidence_scores between 0 and 1. " +
	"Never output null; omit fields that are not present in the document."

const promptStandard = promptPreamble +
	" The document is a single typed page."

const promptHandwritten = promptPreamble +
	" The document contains handwriting. Transcribe handwritten entries carefully and lower the confidence score where strokes are ambiguous."

const promptMultiPage = promptPreamble +
	" The document has multiple pages. Fields may appear on any page; prefer the most complete value and do not merge conflicting values from different pages."

const promptMultiPageHandwritten = promptMultiPage +
	" Pages contain handwriting; transcribe it carefully and lower confidence where ambiguous."

// SelectPrompt picks the extraction prompt for a document.
func SelectPrompt(isHandwritten, isMultiPage bool) string {
	switch {
	case isMultiPage && isHandwritten:
		return promptMultiPageHandwritten
	case isMultiPage:
		return promptMultiPage
	case isHandwritten:
		return promptHandwritten
	default:
		return promptStandard
	}
}

// ClassificationPrompt asks for the coarse visual-content tag.
func ClassificationPrompt() string {
	return "Look at the attached document sample and classify its visual content. " +
		"Answer ONLY with a JSON object {\"type\": one of HANDWRITTEN, TYPED, MIXED, SCANNED, " +
		"\"confidence\": number between 0 and 1, \"reasoning\": short string}. " +
		"TYPED means clean machine-set text. SCANNED means a photographed or scanned page of any kind. " +
		"MIXED means typed text with handwritten additions."
}

// BuildUserContext gives the model light provenance hints, mirroring what a
// reviewer would see in the intake UI.
func BuildUserContext(filename string, pageCount int) string {
	var b strings.Builder
	b.WriteString("Filename: ")
	b.WriteString(filename)
	if pageCount > 1 {
		b.WriteString("\nPages: ")
		b.WriteString(strconv.Itoa(pageCount))
	}
	return b.String()
}
