package accounting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNotFound matches any APIError carrying a 404.
var ErrNotFound = errors.New("not found")

// genericTransportMessage is shown when a transport failure carries no text.
const genericTransportMessage = "Unable to reach the accounting service"

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string // normalized, human-readable
	Body       []byte // raw payload, for logging only
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return e.Message
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// TransportError wraps a failure to talk to the backend at all.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil || e.Err.Error() == "" {
		return genericTransportMessage
	}
	return fmt.Sprintf("%s: %v", genericTransportMessage, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PayloadKind tags the shape of an error payload.
type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadText
	PayloadMessages
	PayloadObject
	PayloadOther
)

// ErrorPayload is an error body decoded into one of a small set of shapes.
type ErrorPayload struct {
	Kind     PayloadKind
	Text     string   // PayloadText, PayloadObject
	Messages []string // PayloadMessages
	Raw      string   // compact JSON, always set for JSON bodies
}

// String renders the payload as a single displayable line.
func (p ErrorPayload) String() string {
	switch p.Kind {
	case PayloadText, PayloadObject:
		if p.Text != "" {
			return p.Text
		}
		return p.Raw
	case PayloadMessages:
		return strings.Join(p.Messages, "; ")
	case PayloadOther:
		return p.Raw
	default:
		return ""
	}
}

// objectMessageKeys are looked up, in order, on object payloads.
var objectMessageKeys = []string{"message", "msg", "detail", "error", "errors", "description"}

// DecodeErrorPayload classifies a backend error body. Accepted shapes:
//
//	"plain string"                         -> PayloadText
//	["a", {"msg": "b", "loc": [.., "f"]}]  -> PayloadMessages
//	{"message": ...} / {"detail": [...]}   -> PayloadObject (nested values are decoded recursively)
//
// Anything else falls back to its compact JSON form.
func DecodeErrorPayload(body []byte) ErrorPayload {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ErrorPayload{Kind: PayloadEmpty}
	}
	if !gjson.ValidBytes(body) {
		// Non-JSON bodies (HTML error pages, proxies) pass through as text.
		return ErrorPayload{Kind: PayloadText, Text: string(body)}
	}
	return decodeResult(gjson.ParseBytes(body))
}

func decodeResult(v gjson.Result) ErrorPayload {
	raw := compact(v.Raw)

	switch {
	case v.Type == gjson.String:
		return ErrorPayload{Kind: PayloadText, Text: v.Str, Raw: raw}

	case v.Type == gjson.Null:
		return ErrorPayload{Kind: PayloadEmpty, Raw: raw}

	case v.IsArray():
		var msgs []string
		for _, item := range v.Array() {
			if m := itemMessage(item); m != "" {
				msgs = append(msgs, m)
			}
		}
		if len(msgs) == 0 {
			return ErrorPayload{Kind: PayloadOther, Raw: raw}
		}
		return ErrorPayload{Kind: PayloadMessages, Messages: msgs, Raw: raw}

	case v.IsObject():
		for _, key := range objectMessageKeys {
			f := v.Get(key)
			if !f.Exists() {
				continue
			}
			if s := decodeResult(f).String(); s != "" {
				return ErrorPayload{Kind: PayloadObject, Text: s, Raw: raw}
			}
		}
		return ErrorPayload{Kind: PayloadObject, Raw: raw}
	}

	return ErrorPayload{Kind: PayloadOther, Raw: raw}
}

// itemMessage renders one entry of a message array. Structured validation
// errors carrying a "loc" path are prefixed with the offending field.
func itemMessage(item gjson.Result) string {
	if item.Type == gjson.String {
		return item.Str
	}
	if !item.IsObject() {
		return compact(item.Raw)
	}

	msg := decodeResult(item).String()
	if loc := item.Get("loc"); loc.IsArray() {
		parts := loc.Array()
		if n := len(parts); n > 0 && msg != "" {
			field := parts[n-1].String()
			if field != "" && field != "body" {
				return field + ": " + msg
			}
		}
	}
	return msg
}

// NormalizeErrorPayload returns a single displayable message for an error body.
func NormalizeErrorPayload(body []byte) string {
	return DecodeErrorPayload(body).String()
}

// Describe returns the displayable message for any error this package
// produces, falling back to err.Error().
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr.Error()
	}
	return err.Error()
}

func compact(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw
	}
	return buf.String()
}
