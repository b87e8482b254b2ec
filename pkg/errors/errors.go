package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the layer that produced it
type Kind string

const (
	// KindTransport is a network or remote failure
	KindTransport Kind = "transport"
	// KindPagination means a navigation marker was invalid or expired
	KindPagination Kind = "pagination"
	// KindExtraction means a collaborator failed to parse or normalize a leaf
	KindExtraction Kind = "extraction"
	// KindPersistence is a local filesystem failure writing output or a checkpoint
	KindPersistence Kind = "persistence"
	KindUnknown     Kind = "unknown"
)

// Error carries the failing operation together with the entry it was working on
type Error struct {
	Kind    Kind
	Op      string
	NodeID  string
	Locator string
	// StatusCode is set for transport errors that came back with an HTTP response
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.NodeID != "" {
		msg += " [node " + e.NodeID + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport wraps err as a transport error
func Transport(op, locator string, statusCode int, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Locator: locator, StatusCode: statusCode, Err: err}
}

// Pagination wraps err as a pagination error
func Pagination(op, locator string, err error) *Error {
	return &Error{Kind: KindPagination, Op: op, Locator: locator, Err: err}
}

// Extraction wraps err as an extraction error for the given node
func Extraction(op, nodeID, locator string, err error) *Error {
	return &Error{Kind: KindExtraction, Op: op, NodeID: nodeID, Locator: locator, Err: err}
}

// Persistence wraps err as a persistence error
func Persistence(op, path string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Locator: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain contains an *Error of the given kind
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRetryable reports whether a transport error is worth another attempt
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindTransport {
		return false
	}
	return IsRetryableStatusCode(e.StatusCode)
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // network error
		return true
	case 408, 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
