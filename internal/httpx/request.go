package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 64 << 10

var (
	ErrEmptyBody    = errors.New("request body is empty")
	ErrNotObject    = errors.New("request body must be a JSON object")
	ErrBodyTooLarge = errors.New("request body too large")
	ErrTrailingData = errors.New("request body has trailing data")
)

// ReadJSON decodes a single JSON object from the request body into dst.
// Bodies over MaxBodyBytes, non-object values and trailing data are rejected.
// Unknown fields are ignored.
func ReadJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrBodyTooLarge
		}
		return fmt.Errorf("read body: %w", err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ErrEmptyBody
	}
	if body[0] != '{' {
		return ErrNotObject
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return ErrTrailingData
	}
	return nil
}
