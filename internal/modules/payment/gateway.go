// README: Mobile-money gateway port.
package payment

import (
	"context"
)

// PushRequest asks the payer's handset to authorise Amount (whole shillings).
type PushRequest struct {
	Phone       string
	Amount      int64
	AccountRef  string
	Description string
}

type PushResponse struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}

// QueryResult mirrors the gateway's STK query answer. Pending is set while
// the payer has not yet acted on the prompt.
type QueryResult struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
	Pending    bool   `json:"-"`
}

// Gateway is the mobile-money collaborator.
type Gateway interface {
	STKPush(ctx context.Context, req PushRequest) (PushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error)
}
