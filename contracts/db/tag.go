package db

import "strings"

// TagType 标签层级：domain → category → tag，tag_new 为模型新发现的标签
type TagType string

const (
	TagTypeDomain   TagType = "domain"
	TagTypeCategory TagType = "category"
	TagTypeTag      TagType = "tag"
	TagTypeNewTag   TagType = "tag_new"
)

// Tag 表示 tags 表的一行，(type, slug) 唯一
type Tag struct {
	ID   string  `json:"id"`
	Type TagType `json:"type"`
	Slug string  `json:"slug"`
	Name string  `json:"name"`
}

// Slugify normalizes a tag name: trimmed and lowercased. "AI" and " ai " share a slug.
func Slugify(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
