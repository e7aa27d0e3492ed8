package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxKeyLength is the S3 object key limit in bytes.
const maxKeyLength = 1024

// ValidateQuery rejects blank queries.
func ValidateQuery(text string) error {
	if strings.TrimSpace(text) == "" {
		return NewValidationError("query", text, ErrEmptyQuery)
	}
	return nil
}

// ValidateObjectKey checks an object key before it is fetched.
func ValidateObjectKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return NewValidationError("s3_upload", key, ErrInvalidRequest)
	case len(key) > maxKeyLength:
		return NewValidationError("s3_upload", key[:32]+"...", fmt.Errorf("%w: key longer than %d bytes", ErrInvalidRequest, maxKeyLength))
	case !utf8.ValidString(key):
		return NewValidationError("s3_upload", key, fmt.Errorf("%w: key is not UTF-8", ErrInvalidRequest))
	}
	return nil
}

// DecodeAudio decodes hex-encoded audio bytes.
func DecodeAudio(audioHex string) ([]byte, error) {
	if audioHex == "" {
		return nil, NewValidationError("audio", "", ErrInvalidRequest)
	}
	data, err := hex.DecodeString(audioHex)
	if err != nil {
		return nil, NewValidationError("audio", truncate(audioHex, 16), fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
