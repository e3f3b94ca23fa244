package domain

import "fmt"

// Error is a business-rule rejection with a machine-readable code.
// Sentinel instances below compare with errors.Is; callers attach request
// context with WithDetails, which preserves sentinel identity via Unwrap.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any

	cause *Error
}

func (e *Error) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e.cause == nil {
		return nil
	}
	return e.cause
}

// WithDetails returns a copy of the error carrying contextual details,
// e.g. current balance vs requested amount.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Status:  e.Status,
		Details: details,
		cause:   e,
	}
}

var (
	ErrValidation           = &Error{Code: "VALIDATION_ERROR", Message: "invalid input", Status: 422}
	ErrCountryNotAuthorized = &Error{Code: "COUNTRY_NOT_AUTHORIZED", Message: "country not authorized for transactions", Status: 403}
	ErrOperatorNotFound     = &Error{Code: "OPERATOR_NOT_FOUND", Message: "operator not found or inactive", Status: 404}
	ErrMissingAPIKey        = &Error{Code: "MISSING_API_KEY", Message: "missing API key", Status: 401}

	ErrWalletNotActive     = &Error{Code: "WALLET_NOT_ACTIVE", Message: "wallet is not active", Status: 403}
	ErrWalletNotFound      = &Error{Code: "WALLET_NOT_FOUND", Message: "wallet not found", Status: 404}
	ErrLimitExceeded       = &Error{Code: "LIMIT_EXCEEDED", Message: "wallet limit exceeded", Status: 403}
	ErrInsufficientFunds   = &Error{Code: "INSUFFICIENT_FUNDS", Message: "insufficient funds", Status: 403}
	ErrInsufficientBalance = &Error{Code: "INSUFFICIENT_BALANCE", Message: "insufficient wallet balance", Status: 403}

	ErrTransactionNotFound     = &Error{Code: "TRANSACTION_NOT_FOUND", Message: "transaction not found", Status: 404}
	ErrTransactionNotDeletable = &Error{Code: "TRANSACTION_NOT_DELETABLE", Message: "only pending transactions can be deleted", Status: 403}
	ErrInvalidTransition       = &Error{Code: "INVALID_STATUS_TRANSITION", Message: "status transition not allowed", Status: 409}

	ErrTransactionNotSuccessful = &Error{Code: "TRANSACTION_NOT_SUCCESSFUL", Message: "only successful transactions can be refunded", Status: 403}
	ErrRefundExceedsOriginal    = &Error{Code: "REFUND_AMOUNT_EXCEEDS_ORIGINAL", Message: "refund amount cannot exceed the original transaction amount", Status: 400}
	ErrRefundPeriodExpired      = &Error{Code: "REFUND_PERIOD_EXPIRED", Message: "refund period has expired", Status: 403}
	ErrAlreadyRefunded          = &Error{Code: "ALREADY_REFUNDED", Message: "transaction has already been refunded", Status: 403}

	ErrGatewayError       = &Error{Code: "GATEWAY_ERROR", Message: "operator gateway call failed", Status: 502}
	ErrServiceUnavailable = &Error{Code: "SERVICE_UNAVAILABLE", Message: "upstream service unavailable", Status: 502}
)
