// Package mailbox reads newsletter messages from an IMAP folder.
package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/koval-yurko/emails-flow/pkg/util"
)

var (
	ErrMessageNotFound  = util.NewTypedError("message_not_found", "mailbox message not found", false)
	ErrMissingMessageID = util.NewTypedError("missing_message_id", "message has no Message-Id header", false)
)

// Message is a fetched mailbox message with its HTML body.
type Message struct {
	UID       uint32
	From      string
	To        string
	Subject   string
	Date      string
	MessageID string
	HTMLBody  string
}

// ParseMessage reads an RFC 5322 message and picks its text/html part. A
// message without an HTML part falls back to its first text/plain part.
func ParseMessage(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	msg := &Message{
		From:      headerText(&mr.Header, "From"),
		To:        headerText(&mr.Header, "To"),
		Subject:   headerText(&mr.Header, "Subject"),
		Date:      mr.Header.Get("Date"),
		MessageID: strings.TrimSpace(mr.Header.Get("Message-Id")),
	}
	if msg.MessageID == "" {
		return nil, ErrMissingMessageID
	}

	var plain string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read message part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "text/html" && ct != "text/plain" && ct != "" {
			continue
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s body: %w", ct, err)
		}
		if ct == "text/html" {
			msg.HTMLBody = string(body)
			return msg, nil
		}
		if plain == "" {
			plain = string(body)
		}
	}

	msg.HTMLBody = plain
	return msg, nil
}

// headerText decodes RFC 2047 words, keeping the raw value if decoding fails.
func headerText(h *mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return v
	}
	return h.Get(key)
}
