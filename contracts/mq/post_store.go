package mq

// PostStorePayload is the Queue 3 body: one post extracted from an email.
type PostStorePayload struct {
	EmailID    string   `json:"email_id"`
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Text       string   `json:"text"`
	Domains    []string `json:"domains"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
	NewTags    []string `json:"new_tags"`
}

func (p *PostStorePayload) Validate() error {
	switch {
	case p.EmailID == "":
		return missing("email_id")
	case p.URL == "":
		return missing("url")
	case p.Title == "":
		return missing("title")
	}
	return nil
}
