package cryptopay

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Invoice statuses as reported by the payment provider.
const (
	StatusActive  = "active"
	StatusPaid    = "paid"
	StatusExpired = "expired"
)

// Invoice is a payment invoice issued by the provider.
type Invoice struct {
	InvoiceID     int64           `json:"invoice_id"`
	Status        string          `json:"status"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	Payload       string          `json:"payload,omitempty"`
	BotInvoiceURL string          `json:"bot_invoice_url,omitempty"`
	PayURL        string          `json:"pay_url,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
	PaidAt        string          `json:"paid_at,omitempty"`
}

// IsPaid reports whether the invoice has been paid.
func (i *Invoice) IsPaid() bool { return i.Status == StatusPaid }

// IsExpired reports whether the invoice expired unpaid.
func (i *Invoice) IsExpired() bool { return i.Status == StatusExpired }

// apiResponse is the provider's uniform envelope. Every endpoint returns
// ok plus either a result or an error block.
type apiResponse struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *apiError       `json:"error,omitempty"`
}

// apiError is the provider's error block.
type apiError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type createInvoiceRequest struct {
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Payload     string `json:"payload,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

type getInvoicesRequest struct {
	InvoiceIDs string `json:"invoice_ids,omitempty"`
}

type getInvoicesResult struct {
	Items []Invoice `json:"items"`
}
