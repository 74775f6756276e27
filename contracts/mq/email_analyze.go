package mq

// EmailAnalyzePayload is the Queue 2 body: a stored email awaiting extraction.
type EmailAnalyzePayload struct {
	RowID string `json:"row_id"`
}

func (p *EmailAnalyzePayload) Validate() error {
	if p.RowID == "" {
		return missing("row_id")
	}
	return nil
}
