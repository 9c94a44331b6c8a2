package validate

import "fmt"

// Text field length limits — single source of truth for every surface.
const (
	MaxTitleLength       = 500
	MaxGalleryNameLength = 200
	MaxCommentBodyLength = 5000
	MaxAuthorNameLength  = 200
	MaxOrgNameLength     = 200
)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func Title(s string) string       { return checkLen(s, MaxTitleLength, "title") }
func GalleryName(s string) string { return checkLen(s, MaxGalleryNameLength, "gallery name") }
func CommentBody(s string) string { return checkLen(s, MaxCommentBodyLength, "comment") }
func AuthorName(s string) string  { return checkLen(s, MaxAuthorNameLength, "name") }
func OrgName(s string) string     { return checkLen(s, MaxOrgNameLength, "organization name") }
