package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/internal/policy"
	"github.com/kiranshivaraju/inboxpilot/internal/textutil"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// TriageRequest is the triage payload. Only the first MaxTriageKeys keys are used.
type TriageRequest struct {
	Keys      []string  `json:"keys"`
	Language  string    `json:"language,omitempty"`
	SessionID string    `json:"-"`
	Admit     AdmitFunc `json:"-"`
}

func (r TriageRequest) Validate() error { return nil }

type TriageItem struct {
	Key             string `json:"key"`
	Summary         string `json:"summary"`
	SuggestedAction string `json:"suggested_action"`
	Priority        string `json:"priority"`
}

type TriageResult struct {
	OK     bool         `json:"ok"`
	Items  []TriageItem `json:"items"`
	Total  int          `json:"total"`
	Cached bool         `json:"cached"`
}

const triageSystemPrompt = `You are an email triage assistant. Analyze each email and return JSON.
Rules:
- Answer in %s
- For each email return: key, summary (max 2 sentences), suggested_action (reply|delete|skip|mark_read), priority (low|med|high)
- Return valid JSON: { "items": [...] }`

const triageUserPrompt = `Triage the following emails:
%s

Return ONLY the JSON with: { "items": [{ "key": "...", "summary": "...", "suggested_action": "...", "priority": "..." }] }`

// Triage summarizes up to MaxTriageKeys messages. Messages the policy blocks
// (otp, no-reply, newsletter) are answered locally with low priority; only the
// rest reach the model. Items come back in request key order.
func (a *Assistant) Triage(ctx context.Context, req TriageRequest) (*TriageResult, error) {
	keys := req.Keys
	if len(keys) > MaxTriageKeys {
		keys = keys[:MaxTriageKeys]
	}

	msgs, err := a.lookupAll(ctx, keys)
	if err != nil {
		return nil, err
	}

	items := []TriageItem{}
	var pending []models.MessageContext
	for _, m := range msgs {
		d := policy.Block(m.From, a.category(m))
		if !d.Blocked {
			pending = append(pending, m)
			continue
		}
		note := "Auto-classified"
		if len(d.Notes) > 0 {
			note = d.Notes[0]
		}
		items = append(items, TriageItem{
			Key:             m.Key,
			Summary:         subjectOrDefault(m.Subject) + " - " + note,
			SuggestedAction: d.SuggestedAction,
			Priority:        "low",
		})
	}

	cached := false
	if len(pending) > 0 {
		if err := admit(ctx, req.Admit); err != nil {
			return nil, err
		}

		var b strings.Builder
		pendingKeys := make([]string, 0, len(pending))
		for _, m := range pending {
			body := textutil.TruncateText(textutil.CleanText(m.Body), triageBodyChars)
			fmt.Fprintf(&b, "\n---\nKEY: %s\nDe: %s\nAssunto: %s\nData: %s\nCorpo:\n%s\n",
				m.Key, m.From, subjectOrDefault(m.Subject), m.Date, body)
			pendingKeys = append(pendingKeys, m.Key)
		}

		res, err := a.llm.Call(ctx, ai.CallRequest{
			System:    fmt.Sprintf(triageSystemPrompt, languageName(req.Language)),
			User:      fmt.Sprintf(triageUserPrompt, b.String()),
			Action:    string(models.JobTypeTriage),
			TargetKey: strings.Join(pendingKeys, ","),
			SessionID: req.SessionID,
			JSONMode:  true,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, parseTriage(res.Text)...)
		cached = res.Cached
	}

	sortByKeyOrder(items, keys)
	return &TriageResult{OK: true, Items: items, Total: len(items), Cached: cached}, nil
}

func subjectOrDefault(subject string) string {
	if subject == "" {
		return "(no subject)"
	}
	return subject
}

// sortByKeyOrder orders items as their keys appear in keys. Items with keys the
// caller never asked for go last.
func sortByKeyOrder(items []TriageItem, keys []string) {
	order := make(map[string]int, len(keys))
	for i, k := range keys {
		if _, seen := order[k]; !seen {
			order[k] = i
		}
	}
	rank := func(k string) int {
		if i, ok := order[k]; ok {
			return i
		}
		return len(keys)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return rank(items[i].Key) < rank(items[j].Key)
	})
}

// parseTriage accepts {"items":[...]} or a bare array and fills per-field defaults.
func parseTriage(text string) []TriageItem {
	items := []TriageItem{}

	raw, ok := ai.ParseJSONResponse(text)
	if !ok {
		return items
	}

	var list []TriageItem
	var wrapped struct {
		Items []TriageItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Items != nil {
		list = wrapped.Items
	} else if err := json.Unmarshal(raw, &list); err != nil {
		return items
	}

	for _, it := range list {
		items = append(items, TriageItem{
			Key:             it.Key,
			Summary:         firstNonEmpty(it.Summary, "No summary"),
			SuggestedAction: firstNonEmpty(it.SuggestedAction, "skip"),
			Priority:        firstNonEmpty(it.Priority, "med"),
		})
	}
	return items
}
