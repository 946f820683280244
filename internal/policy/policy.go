// Package policy classifies messages and decides which ones must never get an automated reply.
package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/inboxpilot/internal/textutil"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	otpScanChars        = 500
	newsletterScanChars = 1000
)

var noReplyAddress = regexp.MustCompile(`(?i)(no[-_.]?reply|do[-_.]?not[-_.]?reply|noreply|mailer[-_.]?daemon)`)

// Policy holds the keyword lists used by the classifier. JSON policy files parse too.
type Policy struct {
	BlockReplyDomains      []string `yaml:"block_reply_domains"`
	NeverReplyKeywords     []string `yaml:"never_reply_keywords"`
	SafeNewsletterKeywords []string `yaml:"safe_newsletter_keywords"`
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		BlockReplyDomains:      []string{"no-reply", "noreply"},
		NeverReplyKeywords:     []string{"código", "otp", "senha", "verification"},
		SafeNewsletterKeywords: []string{"unsubscribe", "newsletter"},
	}
}

// LoadFile reads a policy file. Lists missing from the file keep their defaults.
func LoadFile(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	var fromFile Policy
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return p, fmt.Errorf("parse policy file: %w", err)
	}
	if fromFile.BlockReplyDomains != nil {
		p.BlockReplyDomains = fromFile.BlockReplyDomains
	}
	if fromFile.NeverReplyKeywords != nil {
		p.NeverReplyKeywords = fromFile.NeverReplyKeywords
	}
	if fromFile.SafeNewsletterKeywords != nil {
		p.SafeNewsletterKeywords = fromFile.SafeNewsletterKeywords
	}
	return p, nil
}

// Classifier maps sender/subject/body to a category. It holds no mutable state.
type Classifier struct {
	policy Policy
}

func NewClassifier(p Policy) *Classifier {
	return &Classifier{policy: p}
}

// Classify applies the rules in order: otp keywords, blocked sender, newsletter keywords.
func (c *Classifier) Classify(from, subject, body string) models.Category {
	if containsAny(subject, c.policy.NeverReplyKeywords) || containsAny(prefix(body, otpScanChars), c.policy.NeverReplyKeywords) {
		return models.CategoryOTP
	}
	if containsAny(from, c.policy.BlockReplyDomains) {
		return models.CategoryAutomated
	}
	if containsAny(prefix(body, newsletterScanChars), c.policy.SafeNewsletterKeywords) {
		return models.CategoryNewsletter
	}
	return models.CategoryHuman
}

// Decision says whether the LLM must be skipped for a message and what to suggest instead.
type Decision struct {
	Blocked         bool
	SuggestedAction string
	Classification  models.Category
	Notes           []string
}

// Block maps a category and sender to a reply decision. No-reply senders are blocked
// regardless of category.
func Block(from string, category models.Category) Decision {
	addr := strings.ToLower(textutil.ParseEmailAddress(from))

	switch {
	case category == models.CategoryOTP:
		return Decision{Blocked: true, SuggestedAction: "mark_read", Classification: models.CategoryOTP,
			Notes: []string{"OTP or verification email, no reply needed"}}
	case noReplyAddress.MatchString(addr):
		return Decision{Blocked: true, SuggestedAction: "skip", Classification: models.CategoryNoReply,
			Notes: []string{"No-reply sender address"}}
	case category == models.CategoryNewsletter || category == "promo" || category == "marketing":
		return Decision{Blocked: true, SuggestedAction: "delete", Classification: models.CategoryNewsletter,
			Notes: []string{"Newsletter or promotional email, suggested delete"}}
	case category == models.CategoryAutomated:
		return Decision{SuggestedAction: "skip", Classification: models.CategoryAutomated,
			Notes: []string{"Automated email"}}
	}

	if category == "" {
		category = models.CategoryHuman
	}
	return Decision{Classification: category, Notes: []string{}}
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
