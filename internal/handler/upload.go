package handler

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

// hasFilePart reports whether body is multipart form data containing a file
// under the form field name part. The body itself is only read, never rewritten.
func hasFilePart(contentType string, body []byte, part string) bool {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return false
	}
	boundary := params["boundary"]
	if boundary == "" {
		return false
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		p, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			return false
		}
		found := p.FormName() == part && p.FileName() != ""
		_ = p.Close()
		if found {
			return true
		}
	}
}
