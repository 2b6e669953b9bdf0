package service

import (
	"errors"
	"net/http"

	"github.com/abdulalimswe/FairMark/internal/service/integration"
)

// Sentinel errors mapped to HTTP status codes by the delivery layer.
var (
	ErrNotEligible      = errors.New("submission is not eligible for evaluation")
	ErrReportsDisabled  = errors.New("evaluation reports are not enabled")
	ErrSubmissionLookup = errors.New("submission lookup failed")
)

// permanentError marks a pipeline failure that repeating the same request
// cannot fix. The fingerprint still stays unmarked.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// classify wraps remote client errors (4xx other than timeouts and
// throttling) as permanent.
func classify(err error) error {
	if err == nil || isPermanentError(err) {
		return err
	}
	switch code := integration.StatusCode(err); {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return err
	case code >= 400 && code < 500:
		return permanent(err)
	}
	return err
}
