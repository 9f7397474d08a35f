package codec

import (
	"encoding/base64"
	"fmt"
)

// UnsupportedTypeError reports a value kind (on encode) or a document tag
// (on decode) that has no registered codec.
type UnsupportedTypeError struct {
	Kind string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("codec: unsupported value type %q", e.Kind)
}

// CircularRefError reports a container that directly or indirectly
// contains itself.
type CircularRefError struct {
	Kind string
}

func (e *CircularRefError) Error() string {
	return fmt.Sprintf("codec: circular reference detected in %s", e.Kind)
}

// MalformedPayloadError reports a document that does not follow the
// {"type", "value"} grammar, or a payload that does not parse under its
// tag.
type MalformedPayloadError struct {
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return "codec: malformed payload: " + e.Reason
}

func base64NoBreaks(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
