package llm

import (
	_ "embed"
	"strings"
	"text/template"
)

var (
	//go:embed prompt.tmpl
	promptText string
	//go:embed taxonomy.md
	taxonomy string
	//go:embed schema.json
	responseSchema string
)

var promptTemplate = template.Must(template.New("extract").Parse(promptText))

type promptData struct {
	EmailContent string
	Taxonomy     string
	Schema       string
}

// BuildPrompt renders the extraction prompt for one email.
func BuildPrompt(emailContent string) (string, error) {
	var b strings.Builder
	err := promptTemplate.Execute(&b, promptData{
		EmailContent: emailContent,
		Taxonomy:     strings.TrimSpace(taxonomy),
		Schema:       strings.TrimSpace(responseSchema),
	})
	return b.String(), err
}
