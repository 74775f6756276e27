package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koval-yurko/emails-flow/pkg/util"
)

var ErrUnparseable = util.NewTypedError("llm_unparseable", "could not parse structured model output", false)

// PostItem is one post extracted from a newsletter.
type PostItem struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	Text       string   `json:"text"`
	Domains    []string `json:"domains"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
	NewTags    []string `json:"newTags"`
}

type extraction struct {
	Posts *[]PostItem `json:"posts"`
}

// Parse reads the model output into posts. Code fences are stripped, then the
// whole content is parsed; if that fails the span from the first '{' to the
// last '}' is tried.
func Parse(content string) ([]PostItem, error) {
	content = stripFences(strings.TrimSpace(content))

	posts, err := decode(content)
	if err == nil {
		return posts, nil
	}

	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if posts, innerErr := decode(content[start : end+1]); innerErr == nil {
			return posts, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
}

func stripFences(content string) string {
	switch {
	case strings.HasPrefix(content, "```json"):
		content = strings.ReplaceAll(content, "```json", "")
		content = strings.ReplaceAll(content, "```", "")
	case strings.HasPrefix(content, "```"):
		content = strings.ReplaceAll(content, "```", "")
	}
	return strings.TrimSpace(content)
}

func decode(s string) ([]PostItem, error) {
	var out extraction
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out.Posts == nil {
		return nil, fmt.Errorf("posts is required")
	}

	posts := *out.Posts
	for i := range posts {
		p := &posts[i]
		switch {
		case p.URL == "":
			return nil, fmt.Errorf("posts[%d].url is required", i)
		case p.Title == "":
			return nil, fmt.Errorf("posts[%d].title is required", i)
		}
		p.Domains = orEmpty(p.Domains)
		p.Categories = orEmpty(p.Categories)
		p.Tags = orEmpty(p.Tags)
		p.NewTags = orEmpty(p.NewTags)
	}
	return posts, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
