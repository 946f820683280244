// Package assistant turns email context into LLM prompts and parses the answers.
// The worker and the synchronous HTTP path share these handlers.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/internal/mailbox"
	"github.com/kiranshivaraju/inboxpilot/internal/policy"
	"github.com/kiranshivaraju/inboxpilot/internal/store"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

const (
	MaxTriageKeys   = 10
	MaxVisibleKeys  = 10
	triageBodyChars = 1200
	chatBodyChars   = 800
	chatHistoryRead = 10
	chatHistoryUsed = 8
	chatMessageCap  = 2000
	chatMaxTokens   = 500
)

var ErrInvalidPayload = errors.New("invalid job payload")

// AdmitFunc is consulted right before an LLM call. A non-nil error aborts the
// call and is returned unchanged.
type AdmitFunc func(ctx context.Context) error

func admit(ctx context.Context, fn AdmitFunc) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// MessageSource resolves a message key to its context. *mailbox.Registry satisfies it.
type MessageSource interface {
	MessageContext(ctx context.Context, key string) (models.MessageContext, error)
}

type Assistant struct {
	llm           ai.Caller
	messages      MessageSource
	classifier    *policy.Classifier
	chats         store.ChatStore
	maxInputChars int
}

func New(llm ai.Caller, messages MessageSource, classifier *policy.Classifier, chats store.ChatStore, maxInputChars int) *Assistant {
	if classifier == nil {
		classifier = policy.NewClassifier(policy.Default())
	}
	if maxInputChars <= 0 {
		maxInputChars = 12000
	}
	return &Assistant{
		llm:           llm,
		messages:      messages,
		classifier:    classifier,
		chats:         chats,
		maxInputChars: maxInputChars,
	}
}

// category returns the provider-supplied category or classifies the message.
func (a *Assistant) category(msg models.MessageContext) models.Category {
	if msg.Category != "" {
		return msg.Category
	}
	return a.classifier.Classify(msg.From, msg.Subject, msg.Body)
}

// lookupAll fetches each key, skipping messages that no longer exist.
func (a *Assistant) lookupAll(ctx context.Context, keys []string) ([]models.MessageContext, error) {
	out := make([]models.MessageContext, 0, len(keys))
	for _, key := range keys {
		msg, err := a.messages.MessageContext(ctx, key)
		if err != nil {
			if errors.Is(err, mailbox.ErrMessageNotFound) || errors.Is(err, mailbox.ErrUnknownProvider) {
				slog.Warn("skipping missing message", "key", key, "error", err)
				continue
			}
			return nil, err
		}
		if msg.Key == "" {
			msg.Key = key
		}
		out = append(out, msg)
	}
	return out, nil
}

func languageName(code string) string {
	if code == "en" {
		return "English"
	}
	return "Brazilian Portuguese"
}

// stringList accepts a JSON array of strings or a single string.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if list == nil {
			return []string{}
		}
		return list
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return []string{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
