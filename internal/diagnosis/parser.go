// Package diagnosis turns a model's freeform failure analysis into a typed record.
//
// Every field is resolved by a chain of layers tried in order: a labeled section
// of the analysis, then a heuristic, then a literal default. A layer that finds
// nothing defers to the next, so Parse always returns a complete Diagnosis.
package diagnosis

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

const (
	// MaxErrorQuoteLen bounds the quoted error line.
	MaxErrorQuoteLen = 200
	// MaxFixStepLen bounds a single fix step.
	MaxFixStepLen = 500
	// MaxFixSteps is how many fix steps are kept.
	MaxFixSteps = 5
	// MinUnlabeledStepLen is the length a numbered line outside a FIX_STEPS
	// block must exceed to count as a fix step.
	MinUnlabeledStepLen = 15

	// ErrorQuoteNotFound is reported when neither the analysis nor the log yields an error line.
	ErrorQuoteNotFound = "No specific error found in logs"
)

// Section labels recognized in the analysis text.
const (
	labelSeverity    = "SEVERITY"
	labelError       = "ERROR"
	labelExplanation = "EXPLANATION"
	labelFixSteps    = "FIX_STEPS"
	labelFixes       = "FIXES"
)

// Diagnosis is the structured form of an analysis.
type Diagnosis struct {
	Severity    models.Severity
	ErrorQuote  string
	Explanation string
	FixSteps    []string
}

var (
	// A label starts a line, may be wrapped in markdown bold, and ends with a colon.
	labelRe = regexp.MustCompile(`(?m)^[ \t]*(?:\*\*)?(SEVERITY|ERROR|EXPLANATION|FIX_STEPS|FIXES)(?:\*\*)?[ \t]*:(?:\*\*)?[ \t]*`)

	numberedRe = regexp.MustCompile(`^[ \t]*\d+[.)][ \t]+(.*)$`)

	severityKeywords = []struct {
		severity models.Severity
		re       *regexp.Regexp
	}{
		{models.SeverityCritical, regexp.MustCompile(`(?i)\b(critical|severe|security)\b`)},
		{models.SeverityHigh, regexp.MustCompile(`(?i)\b(high|broken|major)\b`)},
		{models.SeverityLow, regexp.MustCompile(`(?i)\b(low|minor|warning)\b`)},
	}

	// Failure markers searched in the raw log, in priority order.
	logMarkers = []*regexp.Regexp{
		regexp.MustCompile(`##\[error\]`),
		regexp.MustCompile(`ERROR:`),
		regexp.MustCompile(`\bexit (?:code )?-?\d+\b`),
		regexp.MustCompile(`FAILED:`),
		regexp.MustCompile(`Exception:`),
	}
)

// section is one labeled block of the analysis, from the start of its label
// line up to the next label or the end of text. SEVERITY holds only its own
// line and ERROR only its first non-blank line, so prose after them is left
// for the remainder.
type section struct {
	label      string
	start, end int
	body       string
}

type document struct {
	text     string
	sections []section
}

func newDocument(text string) document {
	doc := document{text: text}
	matches := labelRe.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		label := text[m[2]:m[3]]
		switch label {
		case labelFixes:
			label = labelFixSteps
		case labelSeverity:
			end = m[1] + lineEnd(text[m[1]:end])
		case labelError:
			end = m[1] + firstLineEnd(text[m[1]:end])
		}
		doc.sections = append(doc.sections, section{
			label: label,
			start: m[0],
			end:   end,
			body:  text[m[1]:end],
		})
	}
	return doc
}

// lineEnd is the offset just past the first line of s, newline included.
func lineEnd(s string) int {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return i + 1
	}
	return len(s)
}

// firstLineEnd is the offset just past the first non-blank line of s.
func firstLineEnd(s string) int {
	pos := 0
	for pos < len(s) {
		n := lineEnd(s[pos:])
		if strings.TrimSpace(s[pos:pos+n]) != "" {
			return pos + n
		}
		pos += n
	}
	return len(s)
}

// find returns the first section with label.
func (d document) find(label string) (section, bool) {
	for _, s := range d.sections {
		if s.label == label {
			return s, true
		}
	}
	return section{}, false
}

// Parse converts analysis text into a Diagnosis. logSnippet is the raw log the
// analysis was produced from; it is only consulted for the error quote.
func Parse(analysis, logSnippet string) Diagnosis {
	doc := newDocument(analysis)
	return Diagnosis{
		Severity:    resolveSeverity(doc),
		ErrorQuote:  resolveErrorQuote(doc, logSnippet),
		Explanation: resolveExplanation(doc),
		FixSteps:    resolveFixSteps(doc),
	}
}

// --- Severity ---

func resolveSeverity(doc document) models.Severity {
	if sev, ok := severityFromLabel(doc); ok {
		return sev
	}
	if sev, ok := severityFromKeywords(doc.text); ok {
		return sev
	}
	return models.SeverityMedium
}

func severityFromLabel(doc document) (models.Severity, bool) {
	s, ok := doc.find(labelSeverity)
	if !ok {
		return "", false
	}
	fields := strings.Fields(s.body)
	if len(fields) == 0 {
		return "", false
	}
	word := strings.ToLower(strings.Trim(fields[0], "*`_.,;:!\"'()[]"))
	switch sev := models.Severity(word); sev {
	case models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow:
		return sev, true
	}
	return "", false
}

// severityFromKeywords checks keyword families in fixed order; the first
// family with any hit wins regardless of where in the text it occurs.
func severityFromKeywords(text string) (models.Severity, bool) {
	for _, family := range severityKeywords {
		if family.re.MatchString(text) {
			return family.severity, true
		}
	}
	return "", false
}

// --- Error quote ---

func resolveErrorQuote(doc document, logSnippet string) string {
	if q, ok := errorQuoteFromLabel(doc); ok {
		return q
	}
	if q, ok := errorQuoteFromLog(logSnippet); ok {
		return q
	}
	return ErrorQuoteNotFound
}

func errorQuoteFromLabel(doc document) (string, bool) {
	s, ok := doc.find(labelError)
	if !ok {
		return "", false
	}
	for _, line := range strings.Split(s.body, "\n") {
		if line = strings.Trim(strings.TrimSpace(line), "`"); line != "" {
			return truncate(line, MaxErrorQuoteLen), true
		}
	}
	return "", false
}

// errorQuoteFromLog returns the log line holding the highest-priority marker.
func errorQuoteFromLog(log string) (string, bool) {
	if log == "" {
		return "", false
	}
	lines := strings.Split(log, "\n")
	for _, marker := range logMarkers {
		for _, line := range lines {
			if marker.MatchString(line) {
				return truncate(strings.TrimSpace(line), MaxErrorQuoteLen), true
			}
		}
	}
	return "", false
}

// --- Explanation ---

func resolveExplanation(doc document) string {
	if e, ok := explanationFromLabel(doc); ok {
		return e
	}
	if e, ok := explanationFromRemainder(doc); ok {
		return e
	}
	return doc.text
}

func explanationFromLabel(doc document) (string, bool) {
	s, ok := doc.find(labelExplanation)
	if !ok {
		return "", false
	}
	body := strings.TrimSpace(s.body)
	return body, body != ""
}

// explanationFromRemainder drops every labeled section and keeps what is left.
func explanationFromRemainder(doc document) (string, bool) {
	var sb strings.Builder
	pos := 0
	for _, s := range doc.sections {
		sb.WriteString(doc.text[pos:s.start])
		pos = s.end
	}
	sb.WriteString(doc.text[pos:])

	rest := strings.TrimSpace(sb.String())
	return rest, rest != ""
}

// --- Fix steps ---

func resolveFixSteps(doc document) []string {
	if s, ok := doc.find(labelFixSteps); ok {
		return numberedItems(s.body, 0)
	}
	return numberedItems(doc.text, MinUnlabeledStepLen)
}

// numberedItems collects "<n>. text" items. An item continues on following
// lines until a blank line, another numbered line or a section label. Items
// not longer than minLen are dropped.
func numberedItems(block string, minLen int) []string {
	steps := []string{}
	var cur []string
	flush := func() {
		if cur == nil {
			return
		}
		item := strings.Join(strings.Fields(strings.Join(cur, " ")), " ")
		cur = nil
		if item == "" || utf8.RuneCountInString(item) <= minLen || len(steps) >= MaxFixSteps {
			return
		}
		steps = append(steps, truncate(item, MaxFixStepLen))
	}

	for _, line := range strings.Split(block, "\n") {
		if m := numberedRe.FindStringSubmatch(line); m != nil {
			flush()
			cur = []string{m[1]}
			continue
		}
		if strings.TrimSpace(line) == "" || labelRe.MatchString(line) {
			flush()
			continue
		}
		if cur != nil {
			cur = append(cur, line)
		}
	}
	flush()
	return steps
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
