package planningdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/model"
)

// The planning database's export shape varies by integration (a plain
// REST mirror in some deployments, a raw Notion-style page object in
// others with status nested under properties.Status.select.name). These
// queries tolerate either, trying the flat field first.
var (
	queryPage      = mustParse(`.page // .id // .page_id`)
	queryStatus    = mustParse(`.status // .properties.Status.select.name // .properties.status.select.name`)
	queryUpdatedAt = mustParse(`.updated_at // .last_edited_time`)
	queryTitle     = mustParse(`.title // .properties.Title.title[0].plain_text // ""`)
	queryTopic     = mustParse(`.topic // .properties.Topic.rich_text[0].plain_text // ""`)
	queryDirection = mustParse(`.story_direction // .properties["Story Direction"].rich_text[0].plain_text // ""`)
	queryPriority  = mustParse(`.priority // .properties.Priority.select.name // "normal"`)
)

func mustParse(src string) *gojq.Code {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("planningdb: invalid built-in query %q: %v", src, err))
	}
	code, err := gojq.Compile(q)
	if err != nil {
		panic(fmt.Sprintf("planningdb: cannot compile built-in query %q: %v", src, err))
	}
	return code
}

func firstString(code *gojq.Code, input any) (string, bool) {
	iter := code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return "", false
	}
	if err, isErr := v.(error); isErr {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// ParseWebhookPayload tolerantly extracts one page observation from a
// planning-db webhook body, whatever shape the integration sends.
func ParseWebhookPayload(raw []byte) (PageObservation, error) {
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return PageObservation{}, orcherrors.FailedTo("decode webhook payload", err)
	}
	return extractObservation(input)
}

// ParsePagesPayload extracts a list of page observations from a poll
// response, which is either a bare array or {"pages": [...]}.
func ParsePagesPayload(raw []byte) ([]PageObservation, error) {
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, orcherrors.FailedTo("decode poll payload", err)
	}

	var items []any
	switch v := input.(type) {
	case []any:
		items = v
	case map[string]any:
		if pages, ok := v["pages"].([]any); ok {
			items = pages
		} else if results, ok := v["results"].([]any); ok {
			items = results
		} else {
			items = []any{v}
		}
	default:
		return nil, orcherrors.FailedTo("decode poll payload", fmt.Errorf("unexpected payload shape"))
	}

	out := make([]PageObservation, 0, len(items))
	for _, item := range items {
		obs, err := extractObservation(item)
		if err != nil {
			continue // one malformed row does not fail the whole poll
		}
		out = append(out, obs)
	}
	return out, nil
}

func extractObservation(input any) (PageObservation, error) {
	page, ok := firstString(queryPage, input)
	if !ok {
		return PageObservation{}, orcherrors.FailedTo("extract page observation", fmt.Errorf("no page reference found"))
	}
	status, _ := firstString(queryStatus, input)
	title, _ := firstString(queryTitle, input)
	topic, _ := firstString(queryTopic, input)
	direction, _ := firstString(queryDirection, input)
	priority, _ := firstString(queryPriority, input)

	updatedAt := time.Now().UTC()
	if raw, ok := firstString(queryUpdatedAt, input); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			updatedAt = t
		}
	}

	return PageObservation{
		PageRef:        page,
		StatusLabel:    model.PlanningDBStatusLabel(status),
		UpdatedAt:      updatedAt,
		Title:          title,
		Topic:          topic,
		StoryDirection: direction,
		Priority:       model.Priority(priority),
	}, nil
}
