package diagnosis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structuredAnalysis = `SEVERITY: high
ERROR:
npm ERR! missing script: build
EXPLANATION:
The build script is not defined in package.json.
FIX_STEPS:
1. Add a "build" script to package.json
2. Re-run the pipeline
3. Verify locally with the same command`

func TestParse_StructuredRoundTrip(t *testing.T) {
	d := Parse(structuredAnalysis, "")

	assert.Equal(t, models.SeverityHigh, d.Severity)
	assert.Equal(t, "npm ERR! missing script: build", d.ErrorQuote)
	assert.Equal(t, "The build script is not defined in package.json.", d.Explanation)
	assert.Equal(t, []string{
		`Add a "build" script to package.json`,
		"Re-run the pipeline",
		"Verify locally with the same command",
	}, d.FixSteps)
}

func TestParse_UnlabeledFallback(t *testing.T) {
	text := "The pipeline stopped unexpectedly and needs a closer look at the agent."
	d := Parse(text, "Starting job\nRestoring packages\nDone")

	assert.Equal(t, models.SeverityMedium, d.Severity)
	assert.Equal(t, ErrorQuoteNotFound, d.ErrorQuote)
	assert.Equal(t, text, d.Explanation)
	assert.Empty(t, d.FixSteps)
}

func TestParse_InlineLabelsAndFixesAlias(t *testing.T) {
	text := `ERROR: error CS0246: The type 'Foo' could not be found
EXPLANATION: A referenced assembly is missing.
SEVERITY: Critical
FIXES:
1. Restore NuGet packages
2. Add the missing project reference`

	d := Parse(text, "")
	assert.Equal(t, models.SeverityCritical, d.Severity)
	assert.Equal(t, "error CS0246: The type 'Foo' could not be found", d.ErrorQuote)
	assert.Equal(t, "A referenced assembly is missing.", d.Explanation)
	assert.Equal(t, []string{"Restore NuGet packages", "Add the missing project reference"}, d.FixSteps)
}

func TestParse_MarkdownBoldLabels(t *testing.T) {
	text := "**SEVERITY:** low\n**ERROR:** `lint warning W001`\n**EXPLANATION:** Style only."
	d := Parse(text, "")

	assert.Equal(t, models.SeverityLow, d.Severity)
	assert.Equal(t, "lint warning W001", d.ErrorQuote)
	assert.Equal(t, "Style only.", d.Explanation)
}

func TestParse_NeverPanicsOnEmptyInput(t *testing.T) {
	d := Parse("", "")
	assert.Equal(t, models.SeverityMedium, d.Severity)
	assert.Equal(t, ErrorQuoteNotFound, d.ErrorQuote)
	assert.Equal(t, "", d.Explanation)
	assert.Empty(t, d.FixSteps)
}

// --- Severity layers ---

func TestSeverity_InvalidLabelFallsBackToKeywords(t *testing.T) {
	d := Parse("SEVERITY: urgent\nThe deployment is broken.", "")
	assert.Equal(t, models.SeverityHigh, d.Severity)
}

func TestSeverity_KeywordFamilyOrder(t *testing.T) {
	cases := []struct {
		name string
		text string
		want models.Severity
	}{
		{"critical beats later high", "A minor issue with a high impact and a security hole.", models.SeverityCritical},
		{"high beats low", "Only a warning, but the build is broken.", models.SeverityHigh},
		{"low alone", "This is a minor formatting nit.", models.SeverityLow},
		{"case insensitive", "SEVERE outage in the agent pool.", models.SeverityCritical},
		{"word boundary", "Highlight the slowest step.", models.SeverityMedium},
		{"nothing", "Something happened.", models.SeverityMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveSeverity(newDocument(tc.text)))
		})
	}
}

func TestSeverityFromLabel_OnlyFirstWord(t *testing.T) {
	sev, ok := severityFromLabel(newDocument("SEVERITY: Medium - tests fail intermittently"))
	require.True(t, ok)
	assert.Equal(t, models.SeverityMedium, sev)
}

// --- Error quote layers ---

func TestErrorQuote_LogMarkerPriority(t *testing.T) {
	log := strings.Join([]string{
		"Step 3/9",
		"FAILED: test_login",
		"Process completed with exit code 1",
		"ERROR: something generic",
		"##[error]Bash exited with code '1'.",
	}, "\n")

	q, ok := errorQuoteFromLog(log)
	require.True(t, ok)
	assert.Equal(t, "##[error]Bash exited with code '1'.", q)
}

func TestErrorQuote_LogMarkersInOrder(t *testing.T) {
	cases := []struct {
		log  string
		want string
	}{
		{"info\nERROR: disk full\nFAILED: x", "ERROR: disk full"},
		{"make: *** [all] exit 2\nFAILED: x", "make: *** [all] exit 2"},
		{"ok\nFAILED: integration suite", "FAILED: integration suite"},
		{"java.lang.IllegalStateException: bad state", "java.lang.IllegalStateException: bad state"},
	}
	for _, tc := range cases {
		q, ok := errorQuoteFromLog(tc.log)
		require.True(t, ok, tc.log)
		assert.Equal(t, tc.want, q)
	}
}

func TestErrorQuote_LabelTakesPrecedenceOverLog(t *testing.T) {
	d := Parse("ERROR: from the analysis", "##[error]from the log")
	assert.Equal(t, "from the analysis", d.ErrorQuote)
}

func TestErrorQuote_EmptyLabelUsesLog(t *testing.T) {
	d := Parse("ERROR:\nEXPLANATION: nothing quoted", "##[error]from the log")
	assert.Equal(t, "##[error]from the log", d.ErrorQuote)
}

func TestErrorQuote_Truncated(t *testing.T) {
	d := Parse("ERROR: "+strings.Repeat("x", 500), "")
	assert.Len(t, d.ErrorQuote, MaxErrorQuoteLen)

	q, ok := errorQuoteFromLog("ERROR: " + strings.Repeat("y", 500))
	require.True(t, ok)
	assert.Len(t, q, MaxErrorQuoteLen)
}

// --- Explanation layers ---

func TestExplanation_RemainderAfterStrippingSections(t *testing.T) {
	text := "The restore step timed out talking to the feed.\nSEVERITY: low\nERROR: timeout\nFIX_STEPS:\n1. Retry the restore step"
	d := Parse(text, "")
	assert.Equal(t, "The restore step timed out talking to the feed.", d.Explanation)
}

func TestExplanation_OnlyLabeledSectionsFallsBackToRawText(t *testing.T) {
	text := "SEVERITY: low\nERROR: timeout"
	d := Parse(text, "")
	assert.Equal(t, text, d.Explanation)
}

func TestExplanation_ProseAfterSeverityLine(t *testing.T) {
	text := "SEVERITY: high\nThe NuGet feed rejected the credentials.\nFIX_STEPS:\n1. Rotate the feed token"
	d := Parse(text, "")

	assert.Equal(t, models.SeverityHigh, d.Severity)
	assert.Equal(t, "The NuGet feed rejected the credentials.", d.Explanation)
	assert.Equal(t, []string{"Rotate the feed token"}, d.FixSteps)
}

func TestExplanation_ProseAfterErrorQuote(t *testing.T) {
	text := "ERROR:\n\nnpm ERR! missing script: build\nThe package has no build script defined.\nSEVERITY: high"
	d := Parse(text, "")

	assert.Equal(t, "npm ERR! missing script: build", d.ErrorQuote)
	assert.Equal(t, "The package has no build script defined.", d.Explanation)
}

func TestExplanation_ProseAfterInlineErrorQuote(t *testing.T) {
	text := "ERROR: exit code 137\nThe agent ran out of memory during tests."
	d := Parse(text, "")

	assert.Equal(t, "exit code 137", d.ErrorQuote)
	assert.Equal(t, "The agent ran out of memory during tests.", d.Explanation)
}

func TestNewDocument_SectionBounds(t *testing.T) {
	doc := newDocument("SEVERITY: low\nprose\nERROR:\n  quoted\nmore prose")
	require.Len(t, doc.sections, 2)
	assert.Equal(t, "low\n", doc.sections[0].body)
	assert.Equal(t, "\n  quoted\n", doc.sections[1].body)
}

func TestExplanation_EndsAtNextLabel(t *testing.T) {
	text := "EXPLANATION:\nLine one.\nLine two.\nSEVERITY: high"
	d := Parse(text, "")
	assert.Equal(t, "Line one.\nLine two.", d.Explanation)
}

// --- Fix step layers ---

func TestFixSteps_CapAndTruncation(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("FIX_STEPS:\n")
	sb.WriteString("1. " + strings.Repeat("a", 800) + "\n")
	for i := 2; i <= 8; i++ {
		fmt.Fprintf(&sb, "%d. step\n", i)
	}

	d := Parse(sb.String(), "")
	require.Len(t, d.FixSteps, MaxFixSteps)
	assert.Len(t, d.FixSteps[0], MaxFixStepLen)
}

func TestFixSteps_CollapseMultilineItems(t *testing.T) {
	text := "FIX_STEPS:\n1. Pin the SDK version\n   in global.json\n2. Clear the cache"
	d := Parse(text, "")
	assert.Equal(t, []string{"Pin the SDK version in global.json", "Clear the cache"}, d.FixSteps)
}

func TestFixSteps_UnlabeledShortLinesIgnored(t *testing.T) {
	text := "Analysis of the failure.\n1. Yes\n2. Upgrade the node image to version 20 on the agent"
	d := Parse(text, "")
	assert.Equal(t, []string{"Upgrade the node image to version 20 on the agent"}, d.FixSteps)
}

func TestFixSteps_LabeledShortLinesKept(t *testing.T) {
	d := Parse("FIX_STEPS:\n1. Retry\n2) Reboot", "")
	assert.Equal(t, []string{"Retry", "Reboot"}, d.FixSteps)
}
