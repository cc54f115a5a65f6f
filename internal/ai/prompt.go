package ai

import (
	"fmt"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// MaxPromptLogChars bounds how much of the log tail is sent to the model.
const MaxPromptLogChars = 2000

const promptTemplate = `You are a DevOps expert analyzing Azure DevOps build failures.

RULES:
1. Quote the EXACT error from the log
2. Explain what it means (1-2 sentences)
3. Provide 3 specific fix steps (copy-paste ready commands where possible)
4. Classify severity: critical, high, medium, low
5. Keep under 150 words

Build: %s
Build Status: %s
Log:
%s

Return in format:
SEVERITY: <critical|high|medium|low>
ERROR: <exact error quote>
EXPLANATION: <what it means>
FIX_STEPS:
1. <step 1>
2. <step 2>
3. <step 3>`

// BuildPrompt renders the diagnosis prompt for a failed build. Only the tail of
// the log is included since the failure is almost always at the end.
func BuildPrompt(event models.BuildEvent, logs string) string {
	return fmt.Sprintf(promptTemplate, event.BuildName, event.Status, LogTail(logs, MaxPromptLogChars))
}

// LogTail returns the last n runes of s.
func LogTail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
