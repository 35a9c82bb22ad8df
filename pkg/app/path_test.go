package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	valid := []string{
		"",
		"/",
		"index.html",
		"docs/",
		"docs/guide.html",
		"var",
		"var/",
		"var/notes.txt",
		".can-write",
		"/leading/slash",
		"a/b/c/",
		"..hidden",
		"file.",
	}
	for _, path := range valid {
		t.Run("Valid_"+path, func(t *testing.T) {
			assert.NoError(t, ValidatePath(path))
		})
	}

	invalid := []string{
		".",
		"..",
		"./",
		"../",
		"../etc/passwd",
		"var/../client",
		"var/./x",
		"a//b",
		"a//",
		"//",
		"//x",
		"var/x/..",
		"var/x/../",
	}
	for _, path := range invalid {
		t.Run("Invalid_"+path, func(t *testing.T) {
			err := ValidatePath(path)
			require.ErrorIs(t, err, ErrNonCanonicalPath)
			assert.Contains(t, err.Error(), "non-canonical path")
			assert.Contains(t, err.Error(), path)
		})
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"index.html", "text/html; charset=UTF-8"},
		{"app.js", "text/javascript; charset=UTF-8"},
		{"style/site.css", "text/css; charset=UTF-8"},
		{"logo.png", "image/png"},
		{"anim.gif", "image/gif"},
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"icon.svg", "image/svg+xml; charset=UTF-8"},
		{"README.txt", "text/plain; charset=UTF-8"},
		{"archive.tar.gz", "application/octet-stream"},
		{"Makefile", "application/octet-stream"},
		{"INDEX.HTML", "application/octet-stream"},
		{"", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.path))
		})
	}
}
