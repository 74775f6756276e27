package mq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MailboxUID is a mailbox-local message UID. It is emitted as a JSON string and
// accepts a JSON number on decode.
type MailboxUID string

func (u *MailboxUID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = MailboxUID(s)
		return nil
	}
	if _, err := strconv.ParseUint(string(b), 10, 32); err != nil {
		return fmt.Errorf("message_id must be a string or unsigned integer, got %s", b)
	}
	*u = MailboxUID(b)
	return nil
}

// Uint32 parses the UID for the mailbox client.
func (u MailboxUID) Uint32() (uint32, error) {
	n, err := strconv.ParseUint(string(u), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: message_id %q is not a mailbox uid", ErrInvalidPayload, string(u))
	}
	return uint32(n), nil
}

// EmailReadPayload is the Queue 1 body: one unseen mailbox message to store.
type EmailReadPayload struct {
	MessageID MailboxUID `json:"message_id"`
	Folder    string     `json:"folder"`
}

func (p *EmailReadPayload) Validate() error {
	if p.MessageID == "" {
		return missing("message_id")
	}
	if p.Folder == "" {
		return missing("folder")
	}
	if _, err := p.MessageID.Uint32(); err != nil {
		return err
	}
	return nil
}
