package policy_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiranshivaraju/inboxpilot/internal/policy"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := policy.NewClassifier(policy.Default())

	tests := []struct {
		name    string
		from    string
		subject string
		body    string
		want    models.Category
	}{
		{"otp in subject", "bank@example.com", "Seu código de acesso", "", models.CategoryOTP},
		{"otp in body", "svc@example.com", "Login", "Your verification code is 1234", models.CategoryOTP},
		{"no-reply sender", "no-reply@shop.com", "Order shipped", "Your order is on its way", models.CategoryAutomated},
		{"newsletter", "news@site.com", "Weekly", "Top stories. Click to unsubscribe.", models.CategoryNewsletter},
		{"human", "ana@example.com", "Lunch?", "Are you free tomorrow?", models.CategoryHuman},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.from, tt.subject, tt.body))
		})
	}
}

func TestClassify_OTPRuleWinsOverSender(t *testing.T) {
	c := policy.NewClassifier(policy.Default())
	assert.Equal(t, models.CategoryOTP, c.Classify("noreply@bank.com", "OTP", ""))
}

func TestClassify_KeywordsOutsideScanWindowIgnored(t *testing.T) {
	c := policy.NewClassifier(policy.Default())
	body := strings.Repeat("x ", 600) + "otp"
	assert.Equal(t, models.CategoryHuman, c.Classify("ana@example.com", "hi", body))
}

func TestBlock(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		category models.Category
		blocked  bool
		action   string
		class    models.Category
	}{
		{"otp", "bank@example.com", models.CategoryOTP, true, "mark_read", models.CategoryOTP},
		{"no-reply address", "Shop <do-not-reply@shop.com>", models.CategoryHuman, true, "skip", models.CategoryNoReply},
		{"mailer daemon", "MAILER-DAEMON@mx.example.com", models.CategoryHuman, true, "skip", models.CategoryNoReply},
		{"newsletter", "news@site.com", models.CategoryNewsletter, true, "delete", models.CategoryNewsletter},
		{"promo", "deals@site.com", "promo", true, "delete", models.CategoryNewsletter},
		{"automated not blocked", "alerts@ci.example.com", models.CategoryAutomated, false, "skip", models.CategoryAutomated},
		{"human", "ana@example.com", models.CategoryHuman, false, "", models.CategoryHuman},
		{"empty category", "ana@example.com", "", false, "", models.CategoryHuman},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Block(tt.from, tt.category)
			assert.Equal(t, tt.blocked, d.Blocked)
			assert.Equal(t, tt.action, d.SuggestedAction)
			assert.Equal(t, tt.class, d.Classification)
			assert.NotNil(t, d.Notes)
		})
	}
}

func TestLoadFile_EmptyPathUsesDefaults(t *testing.T) {
	p, err := policy.LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, policy.Default(), p)
}

func TestLoadFile_YAMLOverridesLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("never_reply_keywords:\n  - pin\n"), 0o600))

	p, err := policy.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pin"}, p.NeverReplyKeywords)
	assert.Equal(t, policy.Default().BlockReplyDomains, p.BlockReplyDomains)

	c := policy.NewClassifier(p)
	assert.Equal(t, models.CategoryOTP, c.Classify("a@b.com", "Your PIN", ""))
	assert.Equal(t, models.CategoryHuman, c.Classify("a@b.com", "Your OTP", ""))
}

func TestLoadFile_JSONPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"block_reply_domains": ["bounces"]}`), 0o600))

	p, err := policy.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"bounces"}, p.BlockReplyDomains)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := policy.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
