package engine

import "fmt"

// ErrorKind classifies engine-internal failures. These surface as a failed
// run with a reason string, never as a transport-level error.
type ErrorKind string

const (
	KindNavigationTimeout ErrorKind = "NavigationTimeout"
	KindTargetBlocked     ErrorKind = "TargetBlocked"
	KindSelectorNotFound  ErrorKind = "SelectorNotFound"
	KindInvalidInput      ErrorKind = "InvalidInput"
)

type ScrapeError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

func newScrapeError(kind ErrorKind, msg string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Msg: msg, Err: err}
}
