package workitem

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration         = errors.New("work items are not configured")
	ErrEmptyQueue            = errors.New("no work items in the input queue")
	ErrAlreadyReleased       = errors.New("work item already released")
	ErrExceptionTypeRequired = errors.New("exception type is required for a FAILED release")
	ErrStorage               = errors.New("work item storage failed")
	ErrNoInput               = errors.New("no input work item")
	ErrNotReleased           = errors.New("current input work item is not released")
	ErrVariableNotFound      = errors.New("work item variable not found")
	ErrItemNotFound          = errors.New("work item not found")
	ErrPayloadNotObject      = errors.New("work item payload is not a JSON object")
	ErrFileNotFound          = errors.New("work item file not found")
)

// ItemError lets an action decide how its input item is released when it
// fails inside ForEachInputWorkItem.
type ItemError struct {
	Type    ExceptionType
	Code    string
	Message string
	Err     error
}

// BusinessError returns an error that releases the item as FAILED/BUSINESS.
func BusinessError(code, message string) *ItemError {
	return &ItemError{Type: ExceptionBusiness, Code: code, Message: message}
}

// ApplicationError returns an error that releases the item as FAILED/APPLICATION.
func ApplicationError(code, message string) *ItemError {
	return &ItemError{Type: ExceptionApplication, Code: code, Message: message}
}

func (e *ItemError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s error %s: %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ExceptionFromError derives the release exception for a failed action.
// Errors that are not an ItemError become APPLICATION exceptions.
func ExceptionFromError(err error) *Exception {
	var ie *ItemError
	if errors.As(err, &ie) {
		typ := ie.Type
		if typ == "" {
			typ = ExceptionApplication
		}
		msg := ie.Message
		if msg == "" && ie.Err != nil {
			msg = ie.Err.Error()
		}
		return &Exception{Type: typ, Code: ie.Code, Message: msg}
	}
	return &Exception{Type: ExceptionApplication, Message: err.Error()}
}
