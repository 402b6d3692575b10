package source

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTitle                = errors.New("missing title")
	ErrMissingLatestInstallment    = errors.New("missing latest installment")
	ErrUnparsableInstallmentNumber = errors.New("unparsable installment number")
	ErrMissingInstallmentURL       = errors.New("missing installment url")
	ErrUnsupportedSource           = errors.New("unsupported source")
)

// ExtractionError reports why a document could not be turned into a Record.
// Err is one of the sentinel errors above.
type ExtractionError struct {
	Source string // family name, empty when no family matched
	URL    string
	Detail string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Source != "" {
		return fmt.Sprintf("extract %s [%s]: %s", e.URL, e.Source, msg)
	}
	return fmt.Sprintf("extract %s: %s", e.URL, msg)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func extractErr(source, url string, err error, detail string) error {
	return &ExtractionError{Source: source, URL: url, Err: err, Detail: detail}
}

// FetchError is a transport failure or a non-2xx response.
// It is retried on the next cycle only.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
