package daemon

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"pulmo/internal/intake"
	"pulmo/internal/services"
)

// decodeSubmission reads a multipart upload with a "file" part and an
// optional "attributes" part carrying a JSON object.
func decodeSubmission(r *http.Request, maxBytes int64) (intake.Submission, error) {
	var sub intake.Submission

	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes+1024*1024)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return sub, services.Wrap(services.ErrValidation, "", "submit", "invalid multipart payload", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return sub, services.Wrap(services.ErrValidation, "", "submit", "missing file part", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return sub, services.Wrap(services.ErrValidation, "", "submit", "failed to read upload", err)
	}
	sub.FileName = header.Filename
	sub.Data = data

	if raw := strings.TrimSpace(r.FormValue("attributes")); raw != "" {
		attrs := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
			return sub, services.Wrap(services.ErrValidation, "", "submit", "attributes must be a JSON object", err)
		}
		sub.Attributes = attrs
	}
	return sub, nil
}
