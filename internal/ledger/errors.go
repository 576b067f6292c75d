package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Code classifies ledger failures; transports map it to a status.
type Code string

const (
	CodeInvalidArgument      Code = "InvalidArgument"
	CodeNotFound             Code = "NotFound"
	CodeInsufficientQuantity Code = "InsufficientQuantity"
	CodeConflict             Code = "Conflict"
	CodeUnavailable          Code = "Unavailable"
	CodeInternal             Code = "Internal"
)

// Resources named by NotFound errors.
const (
	ResourceProject  = "Project"
	ResourceMaterial = "Material"
)

// Sentinels for errors.Is; they match any *Error with the same code.
var (
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrInsufficientQuantity = &Error{Code: CodeInsufficientQuantity}
	ErrConflict             = &Error{Code: CodeConflict}
	ErrUnavailable          = &Error{Code: CodeUnavailable}
	ErrInternal             = &Error{Code: CodeInternal}
)

// Error is the structured failure returned by every ledger operation.
type Error struct {
	Code     Code
	Message  string
	Resource string

	// Set on NotFound: Material.
	Debug *MatchDebug

	// Set on InsufficientQuantity.
	Available decimal.Decimal
	Requested decimal.Decimal

	Err error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// MatchDebug lists what the resolver looked at when nothing matched.
type MatchDebug struct {
	RequestedMaterialID string     `json:"requestedMaterialId"`
	RequestedSectionID  string     `json:"requestedSectionId"`
	AvailableMaterials  []BatchRef `json:"availableMaterials"`
}

// BatchRef identifies an available batch in diagnostics.
type BatchRef struct {
	ID        string          `json:"_id"`
	Name      string          `json:"name"`
	SectionID string          `json:"sectionId"`
	Qnt       decimal.Decimal `json:"qnt"`
}

// CodeOf extracts the code of err; foreign errors are Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeInternal
}

func invalidArgument(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg}
}

// ProjectNotFound is returned by stores when (projectID, clientID) has no project.
func ProjectNotFound() *Error {
	return &Error{Code: CodeNotFound, Resource: ResourceProject, Message: "Project not found"}
}

func materialNotFound(debug *MatchDebug) *Error {
	return &Error{
		Code:     CodeNotFound,
		Resource: ResourceMaterial,
		Message:  "Material not found in MaterialAvailable",
		Debug:    debug,
	}
}

func insufficientQuantity(available, requested decimal.Decimal) *Error {
	return &Error{
		Code:      CodeInsufficientQuantity,
		Message:   fmt.Sprintf("Insufficient quantity available. Available: %s, Requested: %s", available, requested),
		Available: available,
		Requested: requested,
	}
}

// Conflict is returned by stores that detect a concurrent modification.
func Conflict(err error) *Error {
	return &Error{Code: CodeConflict, Message: "project was modified concurrently", Err: err}
}

// Unavailable wraps infrastructure failures that may succeed later.
func Unavailable(err error) *Error {
	return &Error{Code: CodeUnavailable, Message: "ledger storage unavailable", Err: err}
}

// classify turns anything a store or context produced into an *Error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Unavailable(err)
	}
	return &Error{Code: CodeInternal, Message: "ledger operation failed", Err: err}
}
