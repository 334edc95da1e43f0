package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Kind classifies a gateway failure.
type Kind int

const (
	KindTransport Kind = iota
	KindAuth
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not-found"
	case KindValidation:
		return "validation"
	default:
		return "transport"
	}
}

// Sentinels matched by errors.Is against any *Failure of the same kind.
var (
	ErrTransport  = errors.New("transport failure")
	ErrAuth       = errors.New("authentication failure")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failure")
)

// Failure is the error returned by every Gateway method. Message is safe to
// show to an operator; Err carries the underlying cause for logs.
type Failure struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Fields  map[string]string
	Err     error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	msg := f.Message
	if strings.TrimSpace(msg) == "" {
		msg = f.Kind.String() + " failure"
	}
	if f.Op != "" {
		return f.Op + ": " + msg
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Is lets errors.Is(err, ErrNotFound) and friends match by kind.
func (f *Failure) Is(target error) bool {
	switch target {
	case ErrTransport:
		return f.Kind == KindTransport
	case ErrAuth:
		return f.Kind == KindAuth
	case ErrNotFound:
		return f.Kind == KindNotFound
	case ErrValidation:
		return f.Kind == KindValidation
	}
	return false
}

func transportFailure(op string, err error) *Failure {
	return &Failure{Kind: KindTransport, Op: op, Message: "request failed", Err: err}
}

func authFailure(op, msg string) *Failure {
	return &Failure{Kind: KindAuth, Op: op, Status: http.StatusUnauthorized, Message: msg}
}

// ValidationFailure builds a client-side validation failure.
func ValidationFailure(op, msg string, fields map[string]string) *Failure {
	return &Failure{Kind: KindValidation, Op: op, Status: http.StatusBadRequest, Message: msg, Fields: fields}
}

// failureFromStatus maps an HTTP status to a failure kind.
func failureFromStatus(op string, status int, msg string) *Failure {
	f := &Failure{Op: op, Status: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		f.Kind = KindAuth
	case status == http.StatusNotFound:
		f.Kind = KindNotFound
	case status == http.StatusBadRequest || status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		f.Kind = KindValidation
	default:
		f.Kind = KindTransport
	}
	if strings.TrimSpace(f.Message) == "" {
		f.Message = http.StatusText(status)
	}
	return f
}

// KindOf returns the failure kind of err, defaulting to transport.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransport
}

var bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.=]+`)

// UserMessage returns a message safe to show in CLI/TUI contexts.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var f *Failure
	if errors.As(err, &f) {
		msg = f.Error()
		if len(f.Fields) > 0 {
			parts := make([]string, 0, len(f.Fields))
			for k, v := range f.Fields {
				parts = append(parts, fmt.Sprintf("%s %s", k, v))
			}
			sort.Strings(parts)
			msg += " (" + strings.Join(parts, "; ") + ")"
		}
	}
	if redact {
		return RedactMessage(msg)
	}
	return msg
}

// DebugMessage returns detailed error text for logs.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) && f.Err != nil {
		return RedactMessage(fmt.Sprintf("%s: %v", f.Error(), f.Err))
	}
	return RedactMessage(err.Error())
}

// RedactMessage strips bearer tokens and the home directory from text.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := bearerPattern.ReplaceAllString(msg, "Bearer [redacted]")
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = strings.ReplaceAll(out, home, "~")
	}
	return out
}
