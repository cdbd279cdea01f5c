package callback

import (
	"encoding/json"

	"examsync/internal/model"
)

// Classification is the tagged outcome of payload inspection.
type Classification struct {
	Form       model.Form
	ExternalID string
	Doc        map[string]any // nil for raw markup
}

// resultFields mark a document as carrying exam results. A document
// with both an identifier and any of these is a full result, never a
// mere notification.
var resultFields = []string{"readings", "clinicianName", "patientName"}

var idFields = []string{"appointmentId", "examId"}

// Classify maps body bytes to exactly one payload form. It is total:
// every input lands in one of the five forms.
func Classify(body []byte) Classification {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return Classification{Form: model.FormRawHTML}
	}
	c := Classification{Doc: doc}
	for _, f := range idFields {
		if s, ok := doc[f].(string); ok && s != "" {
			c.ExternalID = s
			break
		}
	}
	for _, f := range resultFields {
		if _, ok := doc[f]; ok {
			c.Form = model.FormFullResult
			return c
		}
	}
	if _, ok := doc["htmlDocument"]; ok {
		c.Form = model.FormHTMLWrapped
		return c
	}
	if c.ExternalID != "" {
		c.Form = model.FormNotification
		return c
	}
	c.Form = model.FormUnrecognized
	return c
}

// Summarize builds the semi-structured summary persisted alongside the
// blob for each form.
func Summarize(c Classification, body []byte) (summary map[string]any, contentKind string) {
	switch c.Form {
	case model.FormFullResult:
		return c.Doc, model.ContentJSON
	case model.FormHTMLWrapped:
		s := map[string]any{"htmlContent": true}
		if html, ok := c.Doc["htmlDocument"].(string); ok {
			s["htmlSize"] = len(html)
		}
		if c.ExternalID != "" {
			s["appointmentId"] = c.ExternalID
		}
		return s, model.ContentHTML
	case model.FormRawHTML:
		return map[string]any{"htmlContent": true, "htmlSize": len(body)}, model.ContentHTML
	default:
		return c.Doc, model.ContentJSON
	}
}
