package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/kiranshivaraju/inboxpilot/internal/textutil"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

const snippetChars = 200

// IMAPProvider reads messages by UID from a single IMAP mailbox. It opens one
// connection per lookup and never modifies flags.
type IMAPProvider struct {
	cfg config.IMAPConfig
}

func NewIMAPProvider(cfg config.IMAPConfig) *IMAPProvider {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &IMAPProvider{cfg: cfg}
}

func (p *IMAPProvider) connect() (*imapclient.Client, error) {
	addr := p.cfg.Host + ":" + p.cfg.Port

	var (
		client *imapclient.Client
		err    error
	)
	if p.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connect imap %s: %w", addr, err)
	}

	if err := client.Login(p.cfg.Username, p.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("imap login %s: %w", p.cfg.Username, err)
	}
	return client, nil
}

// MessageContext fetches the envelope and body of the message with UID id.
func (p *IMAPProvider) MessageContext(_ context.Context, id string) (models.MessageContext, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return models.MessageContext{}, fmt.Errorf("%w: invalid uid %q", ErrMessageNotFound, id)
	}

	client, err := p.connect()
	if err != nil {
		return models.MessageContext{}, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(p.cfg.Mailbox, nil).Wait(); err != nil {
		return models.MessageContext{}, fmt.Errorf("select %s: %w", p.cfg.Mailbox, err)
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return models.MessageContext{}, fmt.Errorf("%w: uid %d", ErrMessageNotFound, uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return models.MessageContext{}, fmt.Errorf("collect message: %w", err)
	}

	out := models.MessageContext{}
	if env := buf.Envelope; env != nil {
		out.Subject = env.Subject
		if !env.Date.IsZero() {
			out.Date = env.Date.Format(time.RFC1123Z)
		}
		if len(env.From) > 0 {
			out.From = formatAddress(env.From[0].Name, env.From[0].Addr())
		}
	}
	if raw := buf.FindBodySection(section); raw != nil {
		out.Body = extractBody(raw)
		out.Snippet = textutil.TruncateText(strings.Join(strings.Fields(out.Body), " "), snippetChars)
	}

	if err := fetchCmd.Close(); err != nil {
		return out, fmt.Errorf("close fetch: %w", err)
	}
	return out, nil
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

// extractBody returns the text/plain part of a MIME message, falling back to the
// flattened text/html part, then to the raw bytes when the message cannot be parsed.
func extractBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}

	if strings.TrimSpace(textBody) != "" {
		return textBody
	}
	return textutil.HTMLToText(htmlBody)
}
