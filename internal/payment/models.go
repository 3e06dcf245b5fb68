package payment

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`       // For redirect
	ConfirmationURL string `json:"confirmation_url,omitempty"` // From response
}

type PaymentMethod struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type,omitempty"`
	Saved bool   `json:"saved,omitempty"`
	Title string `json:"title,omitempty"`
}

type CreatePaymentRequest struct {
	Amount            Amount            `json:"amount"`
	Capture           bool              `json:"capture"`
	Confirmation      *Confirmation     `json:"confirmation,omitempty"`
	Description       string            `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	SavePaymentMethod bool              `json:"save_payment_method,omitempty"`
	// PaymentMethodID charges a saved method without user interaction.
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

type PaymentResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Paid          bool              `json:"paid"`
	Amount        Amount            `json:"amount"`
	IncomeAmount  *Amount           `json:"income_amount,omitempty"`
	Confirmation  Confirmation      `json:"confirmation"`
	PaymentMethod PaymentMethod     `json:"payment_method"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Webhook structures

type WebhookNotification struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object PaymentResponse `json:"object"`
}

const (
	yooEventSucceeded         = "payment.succeeded"
	yooEventCanceled          = "payment.canceled"
	yooEventWaitingForCapture = "payment.waiting_for_capture"

	metaOrderID   = "order_id"
	metaKind      = "kind"
	metaUserID    = "user_id"
	metaType      = "type"
	metaTrial     = "trial"
	metaMandateID = "mandate_id"
	metaSubID     = "subscription_id"

	typeRenewal = "renewal"
)
