package distance

import (
	"fmt"

	"organlink/pkg/platform/sentinel"
)

// Category classifies a failed route lookup.
type Category string

const (
	CategoryTimeout  Category = "timeout"
	CategoryBadData  Category = "bad_data"
	CategoryOutage   Category = "outage"
	CategoryNoRoute  Category = "no_route"
	CategoryInternal Category = "internal"
)

// Error is a normalized route-service failure. It always matches
// sentinel.ErrUnavailable so callers can degrade without inspecting it.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("distance [%s]: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("distance [%s]: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{sentinel.ErrUnavailable}
	}
	return []error{sentinel.ErrUnavailable, e.Err}
}

func newError(category Category, msg string, err error) *Error {
	return &Error{Category: category, Message: msg, Err: err}
}
