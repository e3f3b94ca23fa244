package domain

// Transaction statuses as exchanged with mobile-money operators.
// SUCCESSFULL keeps the operator-side spelling.
const (
	StatusPending    = "PENDING"
	StatusSuccessful = "SUCCESSFULL"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
	StatusExpired    = "EXPIRED"
	StatusRefunded   = "REFUNDED"
)

const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
)

const (
	MovementCredit = "credit"
	MovementDebit  = "debit"
)

const (
	WalletActive    = "active"
	WalletSuspended = "suspended"
	WalletInactive  = "inactive"
)

const (
	WebhookPending  = "pending"
	WebhookSent     = "sent"
	WebhookFailed   = "failed"
	WebhookDisabled = "disabled"
)

const (
	CommissionPercentage = "percentage"
	CommissionFixed      = "fixed"
)

// Environment selects which ledger database a request is settled against.
// It is resolved once at the request boundary and threaded explicitly;
// there is no process-wide default.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// IsKnownStatus reports whether status is one of the lifecycle states.
func IsKnownStatus(status string) bool {
	return status == StatusPending || IsTerminal(status)
}

// IsTerminal reports whether a status admits no further automatic
// transition. REFUNDED is still reachable from SUCCESSFULL, see CanTransition.
func IsTerminal(status string) bool {
	switch status {
	case StatusSuccessful, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

var statusTransitions = map[string]map[string]struct{}{
	StatusPending: {
		StatusSuccessful: {},
		StatusFailed:     {},
		StatusCancelled:  {},
		StatusExpired:    {},
	},
	StatusSuccessful: {
		StatusRefunded: {},
	},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusExpired:   {},
	StatusRefunded:  {},
}

// CanTransition reports whether a transaction may move from current to next.
func CanTransition(current, next string) bool {
	nextStates, ok := statusTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}
