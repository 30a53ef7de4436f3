package payment

import "encoding/json"

// Metadata kinds. The gateway attaches loosely structured data to a payment
// at different points of its lifecycle; each known shape gets its own variant
// so reconciliation stays type-safe, with Extra holding whatever residual
// fields the gateway adds in the future.
const (
	MetaKindExpressCheckout = "express_checkout"
	MetaKindFailure         = "failure"
	MetaKindGatewayStatus   = "gateway_status"
)

type ExpressCheckoutMeta struct {
	Phone        string `json:"phone"`
	Method       string `json:"method"`
	Instructions string `json:"instructions,omitempty"`
	PollURL      string `json:"poll_url,omitempty"`
}

type FailureMeta struct {
	Reason         string `json:"reason"`
	GatewayStatus  string `json:"gateway_status,omitempty"`
	ExpectedAmount string `json:"expected_amount,omitempty"`
	ReportedAmount string `json:"reported_amount,omitempty"`
}

type GatewayStatusMeta struct {
	Status           string            `json:"status"`
	GatewayReference string            `json:"gateway_reference,omitempty"`
	Amount           string            `json:"amount,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Metadata is the tagged envelope persisted on the payment row.
type Metadata struct {
	Kind            string               `json:"kind"`
	ExpressCheckout *ExpressCheckoutMeta `json:"express_checkout,omitempty"`
	Failure         *FailureMeta         `json:"failure,omitempty"`
	GatewayStatus   *GatewayStatusMeta   `json:"gateway_status,omitempty"`
}

func (m Metadata) Marshal() json.RawMessage {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return raw
}

func ExpressCheckoutMetadata(meta ExpressCheckoutMeta) json.RawMessage {
	return Metadata{Kind: MetaKindExpressCheckout, ExpressCheckout: &meta}.Marshal()
}

func FailureMetadata(meta FailureMeta) json.RawMessage {
	return Metadata{Kind: MetaKindFailure, Failure: &meta}.Marshal()
}

func GatewayStatusMetadata(meta GatewayStatusMeta) json.RawMessage {
	return Metadata{Kind: MetaKindGatewayStatus, GatewayStatus: &meta}.Marshal()
}

func ParseMetadata(raw json.RawMessage) (*Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
