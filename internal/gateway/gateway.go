package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Handle identifies an in-flight payment at an operator: the polling token
// plus the bearer token it was issued under.
type Handle struct {
	Token   string
	AuthRef string
}

// InitResult is the outcome of initiating a payment with an operator.
type InitResult struct {
	Handle         Handle
	Status         string
	OperatorTxID   string
	OperatorStatus string
}

// StatusResult is the operator's current view of a payment. Status is one
// of the domain transaction statuses; OperatorStatus is the operator's raw
// wire status kept as a passthrough; Detail carries the operator's failure
// text for non-success terminal states.
type StatusResult struct {
	Status         string
	OperatorStatus string
	Detail         string
}

// RefundResult is the outcome of a synchronous refund call.
type RefundResult struct {
	Success        bool
	Reference      string
	OperatorStatus string
	Raw            map[string]any
}

// Gateway is the abstract interface to one mobile-money operator.
type Gateway interface {
	Initiate(ctx context.Context, amount decimal.Decimal, phone string) (*InitResult, error)
	CheckStatus(ctx context.Context, handle Handle) (*StatusResult, error)
	Refund(ctx context.Context, amount decimal.Decimal, phone, name string) (*RefundResult, error)
}

// Registry resolves a Gateway by operator code.
type Registry struct {
	byCode map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{byCode: make(map[string]Gateway)}
}

func (r *Registry) Register(code string, gw Gateway) {
	r.byCode[strings.ToUpper(code)] = gw
}

// ForOperator returns the gateway registered for an operator code, or nil.
func (r *Registry) ForOperator(code string) Gateway {
	return r.byCode[strings.ToUpper(code)]
}

// newHTTPClient builds the shared outbound client: 5s connect timeout and a
// 30s overall deadline per call.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 5 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}
