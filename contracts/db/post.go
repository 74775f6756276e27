package db

import "time"

// Post 表示 posts 表的一行，url 唯一
type Post struct {
	ID        string    `json:"id"`
	EmailID   string    `json:"email_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
