package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// ErrDeliveryFailed is returned when a channel rejects a notification.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// TeamsNotifier posts an Adaptive Card to a Microsoft Teams incoming webhook.
type TeamsNotifier struct {
	webhookURL string
	buildURL   func(buildID string) string
	httpClient *http.Client
}

// NewTeamsNotifier creates a TeamsNotifier. buildURL produces the link behind
// the card's "View Build" action; nil omits the action.
func NewTeamsNotifier(webhookURL string, buildURL func(buildID string) string) *TeamsNotifier {
	return &TeamsNotifier{
		webhookURL: webhookURL,
		buildURL:   buildURL,
		httpClient: &http.Client{},
	}
}

func (t *TeamsNotifier) Name() string { return "teams" }

func (t *TeamsNotifier) Notify(ctx context.Context, result *models.AnalysisResult) error {
	body, err := json.Marshal(t.card(result))
	if err != nil {
		return fmt.Errorf("encoding teams card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building teams request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting teams card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: teams returned HTTP %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}

type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string       `json:"$schema"`
	Type    string       `json:"type"`
	Version string       `json:"version"`
	Body    []textBlock  `json:"body"`
	Actions []cardAction `json:"actions,omitempty"`
}

type textBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Weight   string `json:"weight,omitempty"`
	Size     string `json:"size,omitempty"`
	Color    string `json:"color,omitempty"`
	Spacing  string `json:"spacing,omitempty"`
	IsSubtle bool   `json:"isSubtle,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
}

type cardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (t *TeamsNotifier) card(r *models.AnalysisResult) teamsMessage {
	card := adaptiveCard{
		Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
		Type:    "AdaptiveCard",
		Version: "1.2",
		Body: []textBlock{
			{Type: "TextBlock", Text: "Build Failure: " + r.BuildName, Weight: "bolder", Size: "medium", Color: "attention"},
			{Type: "TextBlock", Text: fmt.Sprintf("Build ID: %s | Status: %s | Severity: %s",
				r.BuildID, r.Status, strings.ToUpper(string(r.Severity))), IsSubtle: true, Spacing: "small"},
			{Type: "TextBlock", Text: "Timestamp: " + r.Timestamp.UTC().Format("2006-01-02 15:04:05"), IsSubtle: true, Spacing: "small"},
			{Type: "TextBlock", Text: "AI Analysis:", Weight: "bolder", Spacing: "medium"},
			{Type: "TextBlock", Text: analysisText(r), Wrap: true, Spacing: "small"},
		},
	}
	if t.buildURL != nil {
		card.Actions = []cardAction{{Type: "Action.OpenUrl", Title: "View Build", URL: t.buildURL(r.BuildID)}}
	}
	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content:     card,
		}},
	}
}

func analysisText(r *models.AnalysisResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Error:** %s\n\n**Explanation:** %s\n\n**Fixes:**\n", r.ErrorQuote, r.Explanation)
	for i, step := range r.FixSteps {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, step)
	}
	return sb.String()
}
