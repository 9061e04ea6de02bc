package deploy

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Limits on a deployment request.
const (
	MaxArtifacts     = 1024
	MaxFilenameBytes = 255
	MaxContentBytes  = 1 << 30
	MaxErrors        = 2048
	MaxErrorLength   = 65535
)

// Artifact is one contract jar in a deployment request.
type Artifact struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"contentBase64"`
}

// Payload is an Artifact that passed validation, with its content decoded.
type Payload struct {
	Filename string
	Content  []byte
}

// ValidationError lists every problem found in a request. It is raised
// before any remote I/O.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid deployment request: %s", strings.Join(e.Problems, "; "))
}

// Validate checks a request and decodes its payloads.
func Validate(artifacts []Artifact) ([]Payload, error) {
	var problems []string

	switch {
	case len(artifacts) == 0:
		return nil, &ValidationError{Problems: []string{"jarFiles must contain at least 1 item"}}
	case len(artifacts) > MaxArtifacts:
		return nil, &ValidationError{Problems: []string{
			fmt.Sprintf("jarFiles must contain at most %d items, got %d", MaxArtifacts, len(artifacts)),
		}}
	}

	decoded := make([]Payload, 0, len(artifacts))
	for i, a := range artifacts {
		if p := validateFilename(a.Filename); p != "" {
			problems = append(problems, fmt.Sprintf("jarFiles[%d].filename %s", i, p))
		}

		content, p := decodeContent(a.ContentBase64)
		if p != "" {
			problems = append(problems, fmt.Sprintf("jarFiles[%d].contentBase64 %s", i, p))
		}
		decoded = append(decoded, Payload{Filename: a.Filename, Content: content})
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return decoded, nil
}

// validateFilename returns a problem description, or "" when name is usable
// as a single file in the contract directory.
func validateFilename(name string) string {
	switch {
	case name == "":
		return "must not be empty"
	case len(name) > MaxFilenameBytes:
		return fmt.Sprintf("must be at most %d bytes, got %d", MaxFilenameBytes, len(name))
	case name == "." || name == "..":
		return fmt.Sprintf("%q is not a file name", name)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Sprintf("%q must not contain path separators", name)
	case strings.ContainsRune(name, 0):
		return "must not contain NUL bytes"
	}
	return ""
}

func decodeContent(b64 string) ([]byte, string) {
	if b64 == "" {
		return nil, "must not be empty"
	}
	if base64.StdEncoding.DecodedLen(len(b64)) > MaxContentBytes+2 {
		return nil, fmt.Sprintf("decodes to more than %d bytes", MaxContentBytes)
	}

	content, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		// unpadded input is accepted as well
		var rawErr error
		if content, rawErr = base64.RawStdEncoding.DecodeString(b64); rawErr != nil {
			return nil, fmt.Sprintf("is not valid base64: %v", err)
		}
	}

	switch {
	case len(content) == 0:
		return nil, "decodes to an empty payload"
	case len(content) > MaxContentBytes:
		return nil, fmt.Sprintf("decodes to more than %d bytes", MaxContentBytes)
	}
	return content, ""
}

// truncate limits s to max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	const marker = "...(truncated)"
	runes := []rune(s)
	return string(runes[:max-len(marker)]) + marker
}
