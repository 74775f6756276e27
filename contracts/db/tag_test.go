package db

import "testing"

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"AI":                    "ai",
		" ai ":                  "ai",
		"Large Language Models": "large language models",
		"   ":                   "",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
