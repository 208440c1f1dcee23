package recraft

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

const (
	contentTypeJSON      = "application/json"
	contentTypeMultipart = "multipart/form-data"
	fieldStyle           = "style"
)

// ErrMalformedBody reports a request body that does not match its content type.
var ErrMalformedBody = errors.New("malformed request body")

// RequestStyle extracts the style field from a JSON object or a multipart form.
// Bodies without a style field yield an empty string, as do valid JSON
// values that are not objects; those are forwarded unchanged.
func RequestStyle(contentType string, body []byte) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentTypeJSON
	}
	if strings.EqualFold(mediaType, contentTypeMultipart) {
		return multipartStyle(params["boundary"], body)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	object, _ := payload.(map[string]any)
	style, _ := object[fieldStyle].(string)
	return style, nil
}

func multipartStyle(boundary string, body []byte) (string, error) {
	if boundary == "" {
		return "", fmt.Errorf("%w: missing multipart boundary", ErrMalformedBody)
	}
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		if part.FormName() != fieldStyle || part.FileName() != "" {
			_ = part.Close()
			continue
		}
		value, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		return strings.TrimSpace(string(value)), nil
	}
}
