package errno

import (
	"errors"
	"net/http"
)

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
	cause   error
}

func (e Errno) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// WithMessage returns a copy carrying a more specific message under the same code.
func (e Errno) WithMessage(msg string) Errno {
	e.Message = msg
	return e
}

// Wrap attaches the underlying cause, keeping the code.
func (e Errno) Wrap(err error) Errno {
	e.cause = err
	return e
}

func (e Errno) Unwrap() error {
	return e.cause
}

// Is matches any Errno with the same code, so errors.Is(err, ErrNotFound)
// holds for copies produced by WithMessage or Wrap.
func (e Errno) Is(target error) bool {
	switch t := target.(type) {
	case Errno:
		return t.Code == e.Code
	case *Errno:
		return t != nil && t.Code == e.Code
	}
	return false
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed Errno
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}
	var ptr *Errno
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message
	}
	return InternalServerError.Code, err.Error()
}

// Public is the message safe to show an end user. Integrity failures and
// unclassified errors collapse to a generic text.
func Public(err error) (int, string) {
	code, msg := Decode(err)
	switch {
	case code == InternalServerError.Code, code == ErrDatabase.Code, code == ErrIntegrityViolation.Code:
		return code, InternalServerError.Message
	case code == ErrGatewayUnavailable.Code:
		return code, ErrGatewayUnavailable.Message
	}
	return code, msg
}

// HTTPStatus maps an error code to the status the API answers with.
func HTTPStatus(err error) int {
	code, _ := Decode(err)
	switch code {
	case OK.Code, ErrAlreadyProcessed.Code:
		return http.StatusOK
	case ErrBind.Code, ErrValidation.Code, ErrInvalidWeight.Code, ErrInvalidTransition.Code, ErrBadCallback.Code:
		return http.StatusBadRequest
	case ErrNotFound.Code, ErrAccountNotFound.Code, ErrPickupNotFound.Code, ErrPurchaseNotFound.Code,
		ErrPackageNotFound.Code, ErrTransactionNotFound.Code, ErrUnknownGateway.Code:
		return http.StatusNotFound
	case ErrAlreadyCompleted.Code, ErrCallbackInFlight.Code:
		return http.StatusConflict
	case ErrInsufficientBalance.Code, ErrAccountInactive.Code, ErrVerificationMismatch.Code:
		return http.StatusUnprocessableEntity
	case ErrGatewayUnavailable.Code:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrValidation       = Errno{Code: 10003, Message: "Validation failed"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrNotFound         = Errno{Code: 10005, Message: "Resource not found"}
	ErrAlreadyProcessed = Errno{Code: 10006, Message: "Already processed"}
)

// Ledger Errors (201xx)
var (
	ErrAccountNotFound     = Errno{Code: 20101, Message: "Credit account not found"}
	ErrInsufficientBalance = Errno{Code: 20102, Message: "Insufficient credit balance"}
	ErrAccountInactive     = Errno{Code: 20103, Message: "Credit account is inactive"}
	ErrIntegrityViolation  = Errno{Code: 20104, Message: "Ledger integrity violation"}
	ErrPackageNotFound     = Errno{Code: 20105, Message: "Credit package not found"}
	ErrPurchaseNotFound    = Errno{Code: 20106, Message: "Credit purchase not found"}
	ErrInvalidTransition   = Errno{Code: 20107, Message: "Illegal state transition"}
)

// Settlement Errors (202xx)
var (
	ErrPickupNotFound      = Errno{Code: 20201, Message: "Pickup request not found"}
	ErrInvalidWeight       = Errno{Code: 20202, Message: "Weight must be greater than 0 and at most 1000 kg"}
	ErrAlreadyCompleted    = Errno{Code: 20203, Message: "Pickup already completed"}
	ErrTransactionNotFound = Errno{Code: 20204, Message: "Transaction not found"}
)

// Gateway Errors (203xx)
var (
	ErrUnknownGateway       = Errno{Code: 20301, Message: "Unknown payment gateway"}
	ErrGatewayUnavailable   = Errno{Code: 20302, Message: "Payment gateway unavailable, please try again"}
	ErrVerificationMismatch = Errno{Code: 20303, Message: "Payment verification mismatch"}
	ErrCallbackInFlight     = Errno{Code: 20304, Message: "Callback for this reference is already being processed"}
	ErrBadCallback          = Errno{Code: 20305, Message: "Malformed gateway callback"}
)

// IsValidation reports whether err is a caller input problem.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidWeight) ||
		errors.Is(err, ErrBind) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrBadCallback)
}
