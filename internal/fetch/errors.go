package fetch

import "fmt"

// Kind classifies why a fetch failed. The kind maps straight onto the
// error code persisted on the feed row.
type Kind string

const (
	KindNetwork Kind = "network"
	KindHTTP    Kind = "http"
	KindParse   Kind = "parse"
	KindTimeout Kind = "timeout"
)

// Error is a classified fetch failure.
type Error struct {
	Kind       Kind
	Source     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Source, e.StatusCode)
	case KindTimeout:
		return fmt.Sprintf("fetch %s: timed out", e.Source)
	default:
		return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the stable error code for persistence.
func (e *Error) Code() string {
	return string(e.Kind)
}
