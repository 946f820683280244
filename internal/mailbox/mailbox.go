// Package mailbox resolves "provider:id" message keys to the email context used in prompts.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kiranshivaraju/inboxpilot/internal/textutil"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrUnknownProvider = errors.New("unknown mail provider")
)

// Provider fetches a single message by its provider-local ID.
type Provider interface {
	MessageContext(ctx context.Context, id string) (models.MessageContext, error)
}

// Registry routes message keys to the provider named by their prefix.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider for name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}

// MessageContext looks up key ("provider:id"). The returned context always carries key.
func (r *Registry) MessageContext(ctx context.Context, key string) (models.MessageContext, error) {
	name, id, ok := SplitKey(key)
	if !ok {
		return models.MessageContext{}, fmt.Errorf("%w: %s", ErrMessageNotFound, key)
	}

	r.mu.RLock()
	p, found := r.providers[name]
	r.mu.RUnlock()
	if !found {
		return models.MessageContext{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	msg, err := p.MessageContext(ctx, id)
	if err != nil {
		return models.MessageContext{}, fmt.Errorf("fetch message %s: %w", key, err)
	}
	msg.Key = key
	return msg, nil
}

// SplitKey splits "provider:id" at the first colon.
func SplitKey(key string) (provider, id string, ok bool) {
	provider, id, ok = strings.Cut(key, ":")
	if !ok || provider == "" || id == "" {
		return "", "", false
	}
	return provider, id, true
}

// FormatContext renders a message as the header/body block placed into prompts.
// The cleaned body is truncated to maxBody characters.
func FormatContext(msg models.MessageContext, maxBody int) string {
	body := textutil.TruncateText(textutil.CleanText(msg.Body), maxBody)

	var b strings.Builder
	fmt.Fprintf(&b, "De: %s\n", msg.From)
	fmt.Fprintf(&b, "Assunto: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Data: %s", msg.Date)
	if msg.Snippet != "" {
		fmt.Fprintf(&b, "\nPreview: %s", msg.Snippet)
	}
	fmt.Fprintf(&b, "\n\nCorpo:\n%s", body)
	return b.String()
}
