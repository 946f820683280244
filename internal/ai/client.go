package ai

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/inboxpilot/internal/cache"
	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
	"github.com/kiranshivaraju/inboxpilot/internal/textutil"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// Settings are the call defaults applied when a request leaves a field zero.
type Settings struct {
	Model         string
	ReplyModel    string
	TriageModel   string
	ChatModel     string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	MaxInputChars int
	CacheTTL      time.Duration
}

// SettingsFromConfig maps the LLM section of the server config onto Settings.
func SettingsFromConfig(cfg config.LLMConfig) Settings {
	return Settings{
		Model:         cfg.Model,
		ReplyModel:    cfg.ReplyModel,
		TriageModel:   cfg.TriageModel,
		ChatModel:     cfg.ChatModel,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		Timeout:       cfg.Timeout,
		MaxInputChars: cfg.MaxInputChars,
		CacheTTL:      cfg.CacheTTL,
	}
}

// CallRequest is a single system+user prompt. Zero MaxTokens, Temperature or Model
// fall back to the client settings.
type CallRequest struct {
	System      string
	User        string
	Action      string
	TargetKey   string
	SessionID   string
	Model       string
	MaxTokens   int
	Temperature float64
	JSONMode    bool
	SkipCache   bool
}

// MultiRequest carries an ordered transcript instead of a single prompt.
type MultiRequest struct {
	Messages    []models.Message
	Action      string
	TargetKey   string
	SessionID   string
	Model       string
	MaxTokens   int
	Temperature float64
	JSONMode    bool
	SkipCache   bool
}

type CallResult struct {
	Text   string
	Cached bool
	Model  string
}

// Caller is the call surface the job handlers depend on.
type Caller interface {
	Call(ctx context.Context, req CallRequest) (*CallResult, error)
	CallMulti(ctx context.Context, req MultiRequest) (*CallResult, error)
}

// Client wraps an LLMProvider with response caching, input bounds, a per-call
// timeout, error classification and call logging.
type Client struct {
	provider models.LLMProvider
	cache    *cache.ResponseCache
	recorder Recorder
	settings Settings
}

func NewClient(provider models.LLMProvider, rc *cache.ResponseCache, recorder Recorder, settings Settings) *Client {
	if settings.Model == "" {
		settings.Model = "gpt-4.1-mini"
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = 350
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 20 * time.Second
	}
	if settings.MaxInputChars <= 0 {
		settings.MaxInputChars = 12000
	}
	return &Client{provider: provider, cache: rc, recorder: recorder, settings: settings}
}

// ModelForAction returns the configured model for an action, falling back to the default.
func (c *Client) ModelForAction(action string) string {
	var m string
	switch action {
	case string(models.JobTypeSuggestReply), "reply":
		m = c.settings.ReplyModel
	case string(models.JobTypeTriage):
		m = c.settings.TriageModel
	case string(models.JobTypeChat):
		m = c.settings.ChatModel
	}
	if m == "" {
		return c.settings.Model
	}
	return m
}

// MaxInputChars is the bound applied to a single user prompt.
func (c *Client) MaxInputChars() int { return c.settings.MaxInputChars }

func (c *Client) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	user := req.User
	if utf8.RuneCountInString(user) > c.settings.MaxInputChars {
		user = textutil.TruncateText(user, c.settings.MaxInputChars)
	}

	return c.do(ctx, call{
		messages: []models.Message{
			{Role: models.RoleSystem, Content: req.System},
			{Role: models.RoleUser, Content: user},
		},
		system:      req.System,
		user:        user,
		action:      req.Action,
		targetKey:   req.TargetKey,
		sessionID:   req.SessionID,
		model:       req.Model,
		maxTokens:   req.MaxTokens,
		temperature: req.Temperature,
		jsonMode:    req.JSONMode,
		skipCache:   req.SkipCache,
	})
}

func (c *Client) CallMulti(ctx context.Context, req MultiRequest) (*CallResult, error) {
	return c.do(ctx, call{
		messages:    req.Messages,
		user:        flatten(req.Messages),
		action:      req.Action,
		targetKey:   req.TargetKey,
		sessionID:   req.SessionID,
		model:       req.Model,
		maxTokens:   req.MaxTokens,
		temperature: req.Temperature,
		jsonMode:    req.JSONMode,
		skipCache:   req.SkipCache,
	})
}

type call struct {
	messages    []models.Message
	system      string
	user        string
	action      string
	targetKey   string
	sessionID   string
	model       string
	maxTokens   int
	temperature float64
	jsonMode    bool
	skipCache   bool
}

func (c *Client) do(ctx context.Context, in call) (*CallResult, error) {
	if in.model == "" {
		in.model = c.ModelForAction(in.action)
	}
	if in.maxTokens <= 0 {
		in.maxTokens = c.settings.MaxTokens
	}
	if in.temperature == 0 {
		in.temperature = c.settings.Temperature
	}

	entry := models.CallLogEntry{
		SessionID:  in.sessionID,
		Action:     in.action,
		TargetKey:  in.targetKey,
		Model:      in.model,
		InputChars: inputChars(in.messages),
	}

	key := cache.ResponseKey(in.action, in.targetKey,
		cache.PromptHash(in.system, in.user, in.model, in.temperature, in.maxTokens))

	if c.cache != nil && !in.skipCache {
		hit, found, err := c.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("llm cache lookup failed", "error", err, "action", in.action)
		}
		if found {
			entry.Cached = true
			c.record(entry)
			metrics.ObserveCall(in.action, "cached")
			return &CallResult{Text: hit.Response, Cached: true, Model: in.model}, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Complete(callCtx, models.CompletionRequest{
		Model:       in.model,
		Messages:    in.messages,
		MaxTokens:   in.maxTokens,
		Temperature: in.temperature,
		JSONMode:    in.jsonMode,
	})
	metrics.ObserveLatency(c.provider.Name(), in.model, time.Since(start))
	if err != nil {
		ce := Classify(err)
		entry.ErrorCode = ce.Code
		c.record(entry)
		metrics.ObserveCall(in.action, ce.Code)
		return nil, ce
	}

	if c.cache != nil && !in.skipCache {
		if err := c.cache.Set(ctx, key, resp.Text, c.settings.CacheTTL); err != nil {
			slog.Warn("llm cache store failed", "error", err, "action", in.action)
		}
	}

	entry.OutputChars = utf8.RuneCountInString(resp.Text)
	c.record(entry)
	metrics.ObserveCall(in.action, "ok")

	model := resp.Model
	if model == "" {
		model = in.model
	}
	return &CallResult{Text: resp.Text, Model: model}, nil
}

func (c *Client) record(entry models.CallLogEntry) {
	if c.recorder != nil {
		c.recorder.Record(entry)
	}
}

func flatten(msgs []models.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func inputChars(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}

var _ Caller = (*Client)(nil)
