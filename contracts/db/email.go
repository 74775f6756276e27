package db

import "time"

// Email status values. A NULL status is read as EmailStatusCreated.
const (
	EmailStatusCreated   = "created"
	EmailStatusProcessed = "processed"
)

// Email 表示 emails 表的一行
type Email struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Subject      string    `json:"subject"`
	Date         string    `json:"date"`
	MessageID    string    `json:"message_id"`
	RawContent   string    `json:"raw_content"`
	CleanContent string    `json:"clean_content"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsProcessed reports whether extraction already finished for this email.
func (e *Email) IsProcessed() bool {
	return e.Status == EmailStatusProcessed
}
