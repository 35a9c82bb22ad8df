package app

import "strings"

// MIME types served by the session.
const (
	MimeHTML        = "text/html; charset=UTF-8"
	MimeText        = "text/plain"
	MimeOctetStream = "application/octet-stream"
)

var contentTypes = []struct {
	suffix   string
	mimeType string
}{
	{".html", MimeHTML},
	{".js", "text/javascript; charset=UTF-8"},
	{".css", "text/css; charset=UTF-8"},
	{".png", "image/png"},
	{".gif", "image/gif"},
	{".jpg", "image/jpeg"},
	{".jpeg", "image/jpeg"},
	{".svg", "image/svg+xml; charset=UTF-8"},
	{".txt", "text/plain; charset=UTF-8"},
}

// ContentType maps a path to a MIME type by its extension alone.
func ContentType(path string) string {
	for _, ct := range contentTypes {
		if strings.HasSuffix(path, ct.suffix) {
			return ct.mimeType
		}
	}
	return MimeOctetStream
}
