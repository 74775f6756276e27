// Package cleaner strips newsletter HTML down to the markup that carries content.
package cleaner

import (
	"regexp"
	"strings"
)

type Options struct {
	RemoveComments      bool
	RemoveEmptyElements bool
	// PreserveStructure keeps id attributes.
	PreserveStructure bool
	// ExtractTextOnly returns visible text instead of cleaned markup.
	ExtractTextOnly bool
}

func DefaultOptions() Options {
	return Options{RemoveComments: true, RemoveEmptyElements: true}
}

var (
	newlines      = regexp.MustCompile(`\r?\n|\r`)
	styleAttr     = regexp.MustCompile(`(?i)\s*style\s*=\s*["'][^"']*["']`)
	classAttr     = regexp.MustCompile(`(?i)\s*class\s*=\s*["'][^"']*["']`)
	idAttr        = regexp.MustCompile(`(?i)\s*id\s*=\s*["'][^"']*["']`)
	styleBlocks   = regexp.MustCompile(`(?i)<style[^>]*>[\s\S]*?</style>`)
	scriptBlocks  = regexp.MustCompile(`(?i)<script[^>]*>[\s\S]*?</script>`)
	comments      = regexp.MustCompile(`<!--[\s\S]*?-->`)
	trackingAttrs = regexp.MustCompile(`(?i)\s*(onclick|onload|onmouseover|onmouseout|data-[^=]*)\s*=\s*["'][^"']*["']`)
	tableAttrs    = regexp.MustCompile(`(?i)\s*(cellpadding|cellspacing|border|align|valign|width|height|bgcolor)\s*=\s*["'][^"']*["']`)
	fontAttrs     = regexp.MustCompile(`(?i)\s*(color|face|size)\s*=\s*["'][^"']*["']`)
	linkAttrs     = regexp.MustCompile(`(?i)\s*(target|rel)\s*=\s*["'][^"']*["']`)
	trackingPixel = regexp.MustCompile(`(?i)<img[^>]*tracking[^>]*>`)
	emptyAttrs    = regexp.MustCompile(`\s*=\s*["']["']`)
	spaces        = regexp.MustCompile(`\s+`)
	emptyElement  = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9]*)[^>]*>\s*</([a-zA-Z][a-zA-Z0-9]*)>`)
	tagBoundary   = regexp.MustCompile(`><`)
)

var voidElements = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "meta": true, "link": true, "area": true,
	"base": true, "col": true, "embed": true, "source": true, "track": true, "wbr": true,
}

// Clean removes presentation attributes, scripts, styles, tracking markup and
// empty elements, then puts one tag per line.
func Clean(html string, opts Options) string {
	html = newlines.ReplaceAllString(html, "")
	if opts.ExtractTextOnly {
		return ExtractText(html)
	}

	cleaned := styleAttr.ReplaceAllString(html, "")
	cleaned = classAttr.ReplaceAllString(cleaned, "")
	if !opts.PreserveStructure {
		cleaned = idAttr.ReplaceAllString(cleaned, "")
	}
	cleaned = styleBlocks.ReplaceAllString(cleaned, "")
	cleaned = scriptBlocks.ReplaceAllString(cleaned, "")
	if opts.RemoveComments {
		cleaned = comments.ReplaceAllString(cleaned, "")
	}
	cleaned = trackingAttrs.ReplaceAllString(cleaned, "")
	cleaned = tableAttrs.ReplaceAllString(cleaned, "")
	cleaned = fontAttrs.ReplaceAllString(cleaned, "")
	cleaned = linkAttrs.ReplaceAllString(cleaned, "")
	cleaned = trackingPixel.ReplaceAllString(cleaned, "")
	cleaned = emptyAttrs.ReplaceAllString(cleaned, "")
	cleaned = spaces.ReplaceAllString(cleaned, " ")

	if opts.RemoveEmptyElements {
		cleaned = removeEmptyElements(cleaned)
	}

	return format(cleaned)
}

func removeEmptyElements(s string) string {
	return emptyElement.ReplaceAllStringFunc(s, func(m string) string {
		sub := emptyElement.FindStringSubmatch(m)
		open, closing := strings.ToLower(sub[1]), strings.ToLower(sub[2])
		if open != closing || voidElements[open] {
			return m
		}
		return ""
	})
}

func format(s string) string {
	s = tagBoundary.ReplaceAllString(s, ">\n<")
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
