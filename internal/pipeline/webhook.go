package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

const unknownField = "unknown"

// ParseWebhook builds an event from an Azure DevOps build-completed service
// hook payload. Missing or unrecognized fields default to "unknown".
func ParseWebhook(body []byte, receivedAt time.Time) (models.BuildEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return models.BuildEvent{}, fmt.Errorf("decoding webhook payload: %w", err)
	}

	resource, _ := payload["resource"].(map[string]any)
	if resource == nil {
		resource = map[string]any{}
	}

	name := unknownField
	if def, ok := resource["definition"].(map[string]any); ok {
		if n := stringField(def["name"]); n != "" {
			name = n
		}
	}

	status := stringField(resource["result"])
	if status == "" {
		status = stringField(resource["status"])
	}

	id := stringField(resource["id"])
	if id == "" {
		id = unknownField
	}

	return models.BuildEvent{
		BuildID:     id,
		BuildName:   name,
		Status:      models.ParseBuildStatus(status),
		RawResource: resource,
		ReceivedAt:  receivedAt.UTC(),
	}, nil
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
