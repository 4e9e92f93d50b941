package reasoning

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Validator is implemented by every type produced at the decode boundary.
type Validator interface {
	Validate() error
}

// ValidationError marks reasoning output that failed the decode boundary:
// malformed JSON, unknown fields, or a well-shaped value that failed its
// schema checks. All three are the same fault class to callers.
type ValidationError struct {
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reasoning output failed %s validation: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Decode is the strict boundary between raw reasoning output and typed
// values. It decodes with unknown fields disallowed and then runs the
// target's own schema validation; any failure comes back as a
// *ValidationError, never a partially-decoded value.
func Decode[T Validator](schema string, raw json.RawMessage, out T) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &ValidationError{Schema: schema, Err: err}
	}
	if err := out.Validate(); err != nil {
		return &ValidationError{Schema: schema, Err: err}
	}
	return nil
}
