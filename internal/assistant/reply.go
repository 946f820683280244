package assistant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/internal/mailbox"
	"github.com/kiranshivaraju/inboxpilot/internal/policy"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// ReplyRequest is the suggest_reply payload.
type ReplyRequest struct {
	Key       string    `json:"key"`
	Tone      string    `json:"tone,omitempty"`
	Language  string    `json:"language,omitempty"`
	Force     bool      `json:"force,omitempty"`
	SessionID string    `json:"-"`
	Admit     AdmitFunc `json:"-"`
}

func (r ReplyRequest) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidPayload)
	}
	return nil
}

type ReplyResult struct {
	OK              bool            `json:"ok"`
	Key             string          `json:"key"`
	Classification  models.Category `json:"classification"`
	SuggestedAction string          `json:"suggested_action"`
	DraftBody       string          `json:"draft_body"`
	Notes           []string        `json:"notes"`
	Cached          bool            `json:"cached"`
	Blocked         bool            `json:"blocked,omitempty"`
}

var toneInstructions = map[string]string{
	"neutral":  "a neutral, professional tone",
	"formal":   "a formal, respectful tone",
	"short":    "a direct, short tone (at most 3 sentences)",
	"friendly": "a friendly, warm tone",
}

const replySystemPrompt = `You are an executive email assistant. Write a professional reply.
Rules:
- Answer in %s, with %s
- Do not invent facts. If information is missing, ask the sender.
- Be objective and concise
- Return valid JSON with the fields: classification, suggested_action, draft_body, notes
- classification: human|newsletter|otp|automated|no-reply
- suggested_action: send|skip|mark_read|delete
- draft_body: the suggested reply text
- notes: list of short observations (array of strings)`

const replyUserPrompt = `Analyze the email below and write a suitable reply:

%s

Return ONLY the JSON with: classification, suggested_action, draft_body, notes`

// SuggestReply drafts a reply for one message. Blocked messages short-circuit
// without an LLM call unless req.Force is set.
func (a *Assistant) SuggestReply(ctx context.Context, req ReplyRequest) (*ReplyResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	msg, err := a.messages.MessageContext(ctx, req.Key)
	if err != nil {
		return nil, err
	}

	if !req.Force {
		if d := policy.Block(msg.From, a.category(msg)); d.Blocked {
			return &ReplyResult{
				OK:              true,
				Key:             req.Key,
				Classification:  d.Classification,
				SuggestedAction: d.SuggestedAction,
				Notes:           d.Notes,
				Blocked:         true,
			}, nil
		}
	}

	if err := admit(ctx, req.Admit); err != nil {
		return nil, err
	}

	tone, ok := toneInstructions[req.Tone]
	if !ok {
		tone = toneInstructions["neutral"]
	}

	res, err := a.llm.Call(ctx, ai.CallRequest{
		System:    fmt.Sprintf(replySystemPrompt, languageName(req.Language), tone),
		User:      fmt.Sprintf(replyUserPrompt, mailbox.FormatContext(msg, a.maxInputChars)),
		Action:    string(models.JobTypeSuggestReply),
		TargetKey: req.Key,
		SessionID: req.SessionID,
		JSONMode:  true,
	})
	if err != nil {
		return nil, err
	}

	return parseReply(req.Key, res), nil
}

type replyJSON struct {
	Classification  string          `json:"classification"`
	SuggestedAction string          `json:"suggested_action"`
	DraftBody       string          `json:"draft_body"`
	Notes           json.RawMessage `json:"notes"`
}

func parseReply(key string, res *ai.CallResult) *ReplyResult {
	out := &ReplyResult{
		OK:              true,
		Key:             key,
		Classification:  models.CategoryHuman,
		SuggestedAction: "send",
		DraftBody:       res.Text,
		Notes:           []string{"JSON parse failed, returning raw text"},
		Cached:          res.Cached,
	}

	raw, ok := ai.ParseJSONResponse(res.Text)
	if !ok {
		return out
	}
	var parsed replyJSON
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return out
	}

	out.Classification = models.Category(firstNonEmpty(parsed.Classification, string(models.CategoryHuman)))
	out.SuggestedAction = firstNonEmpty(parsed.SuggestedAction, "send")
	out.DraftBody = parsed.DraftBody
	out.Notes = stringList(parsed.Notes)
	return out
}
