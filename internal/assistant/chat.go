package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/internal/textutil"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// ChatRequest is the chat payload. SessionID comes from the job, not the payload body.
type ChatRequest struct {
	Message     string    `json:"message"`
	VisibleKeys []string  `json:"visible_keys,omitempty"`
	SessionID   string    `json:"-"`
	Admit       AdmitFunc `json:"-"`
}

func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidPayload)
	}
	return nil
}

type ProposedAction struct {
	Key    string `json:"key"`
	Action string `json:"action"`
	Body   string `json:"body,omitempty"`
}

type ChatResult struct {
	OK              bool             `json:"ok"`
	Answer          string           `json:"answer"`
	ProposedActions []ProposedAction `json:"proposed_actions"`
}

const chatSystemPrompt = `You are the InboxPilot email assistant. Help the user manage their email.
Rules:
- Answer directly and objectively, in the user's language
- Do not invent facts. If you do not know, say so.
- When suggesting actions, return JSON with a "proposed_actions" field: an array of objects with key, action (send|delete|mark_read|skip), body (optional)
- Valid actions: send (send a reply), delete, mark_read, skip
- NEVER execute actions. Only propose them and wait for approval.
- If the user asks to reply to an email, write the text and propose it as a send action with body.`

const proposedActionsFallback = "Proposed actions below:"

func (a *Assistant) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	system, err := a.chatSystemPrompt(ctx, req.VisibleKeys)
	if err != nil {
		return nil, err
	}

	history, err := a.chats.ChatHistory(ctx, req.SessionID, chatHistoryRead)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	messages := []models.Message{{Role: models.RoleSystem, Content: system}}
	budget := a.maxInputChars - utf8.RuneCountInString(system)

	if len(history) > chatHistoryUsed {
		history = history[len(history)-chatHistoryUsed:]
	}
	for _, h := range history {
		n := utf8.RuneCountInString(h.Content)
		if n > budget {
			break
		}
		messages = append(messages, models.Message{Role: h.Role, Content: h.Content})
		budget -= n
	}

	if err := admit(ctx, req.Admit); err != nil {
		return nil, err
	}

	userMsg := textutil.TruncateText(req.Message, min(budget, chatMessageCap))
	messages = append(messages, models.Message{Role: models.RoleUser, Content: userMsg})

	res, err := a.llm.CallMulti(ctx, ai.MultiRequest{
		Messages:  messages,
		Action:    string(models.JobTypeChat),
		SessionID: req.SessionID,
		MaxTokens: chatMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	if err := a.chats.AppendChatMessage(ctx, req.SessionID, models.RoleUser, req.Message); err != nil {
		return nil, fmt.Errorf("save chat message: %w", err)
	}
	if err := a.chats.AppendChatMessage(ctx, req.SessionID, models.RoleAssistant, res.Text); err != nil {
		return nil, fmt.Errorf("save chat message: %w", err)
	}

	actions := parseProposedActions(res.Text)
	answer := res.Text
	if len(actions) > 0 {
		answer = ai.StripJSONBlocks(res.Text)
		if answer == "" || json.Valid([]byte(answer)) {
			answer = proposedActionsFallback
		}
	}
	return &ChatResult{OK: true, Answer: answer, ProposedActions: actions}, nil
}

// chatSystemPrompt appends visible message snippets and caps the result at the input budget.
func (a *Assistant) chatSystemPrompt(ctx context.Context, visible []string) (string, error) {
	if len(visible) > MaxVisibleKeys {
		visible = visible[:MaxVisibleKeys]
	}
	msgs, err := a.lookupAll(ctx, visible)
	if err != nil {
		return "", err
	}

	system := chatSystemPrompt
	if len(msgs) > 0 {
		snippets := make([]string, 0, len(msgs))
		for _, m := range msgs {
			body := textutil.TruncateText(textutil.CleanText(m.Body), chatBodyChars)
			snippets = append(snippets, fmt.Sprintf("KEY: %s\nDe: %s\nAssunto: %s\nCorpo:\n%s", m.Key, m.From, m.Subject, body))
		}
		system += "\n\nVisible emails:\n---\n" + strings.Join(snippets, "\n---\n")
	}

	if utf8.RuneCountInString(system) > a.maxInputChars {
		system = string([]rune(system)[:a.maxInputChars])
	}
	return system, nil
}

// parseProposedActions reads {"proposed_actions":[...]} or a single {key, action} object.
func parseProposedActions(text string) []ProposedAction {
	actions := []ProposedAction{}

	raw, ok := ai.ParseJSONResponse(text)
	if !ok {
		return actions
	}
	var parsed struct {
		ProposedActions []ProposedAction `json:"proposed_actions"`
		Key             string           `json:"key"`
		Action          string           `json:"action"`
		Body            string           `json:"body"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return actions
	}
	if len(parsed.ProposedActions) > 0 {
		return parsed.ProposedActions
	}
	if parsed.Key != "" && parsed.Action != "" {
		return []ProposedAction{{Key: parsed.Key, Action: parsed.Action, Body: parsed.Body}}
	}
	return actions
}
