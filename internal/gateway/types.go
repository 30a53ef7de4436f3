package gateway

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Gateway status vocabulary. The paid/unpaid determination matches exactly
// on StatusPaid; everything else is treated as not settled.
const (
	StatusOk               = "Ok"
	StatusError            = "Error"
	StatusPaid             = "Paid"
	StatusAwaitingDelivery = "Awaiting Delivery"
	StatusCreated          = "Created"
	StatusSent             = "Sent"
	StatusCancelled        = "Cancelled"
	StatusFailed           = "Failed"
)

// Field is one key/value pair of a gateway message. The hash scheme covers
// field values in the order they were transmitted, so messages are handled
// as ordered field lists rather than maps.
type Field struct {
	Key   string
	Value string
}

// ParseFields decodes an application/x-www-form-urlencoded body while
// preserving field order.
func ParseFields(body []byte) ([]Field, error) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return nil, fmt.Errorf("empty body")
	}

	var fields []Field
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("malformed field key %q: %w", key, err)
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("malformed field value for %q: %w", decodedKey, err)
		}
		fields = append(fields, Field{Key: decodedKey, Value: decodedValue})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields in body")
	}
	return fields, nil
}

// FieldValue returns the value for key, matching case-insensitively the way
// the gateway does.
func FieldValue(fields []Field, key string) string {
	for _, f := range fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

func fieldsToMap(fields []Field) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[strings.ToLower(f.Key)] = f.Value
	}
	return m
}

// Notification is the parsed confirmation webhook body.
type Notification struct {
	Reference        string
	GatewayReference string
	Amount           decimal.Decimal
	Status           string
	PollURL          string
	Hash             string
	Raw              map[string]string
}

// NotificationFromFields extracts the typed notification from parsed fields.
// Signature verification happens separately and must precede this.
func NotificationFromFields(fields []Field) (*Notification, error) {
	reference := FieldValue(fields, "reference")
	if reference == "" {
		return nil, fmt.Errorf("missing reference field")
	}

	rawAmount := FieldValue(fields, "amount")
	amount, err := decimal.NewFromString(strings.TrimSpace(rawAmount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}

	status := FieldValue(fields, "status")
	if status == "" {
		return nil, fmt.Errorf("missing status field")
	}

	return &Notification{
		Reference:        reference,
		GatewayReference: FieldValue(fields, "paynowreference"),
		Amount:           amount,
		Status:           status,
		PollURL:          FieldValue(fields, "pollurl"),
		Hash:             FieldValue(fields, "hash"),
		Raw:              fieldsToMap(fields),
	}, nil
}

// PollResult is the gateway-asserted truth about a transaction, obtained by
// a server-to-server poll. Success refers to the poll itself; Paid to the
// settlement state it reports.
type PollResult struct {
	Success          bool
	Paid             bool
	Status           string
	Amount           decimal.Decimal
	GatewayReference string
	Raw              map[string]string
	Err              string
}

// AmountMinorUnits converts the gateway-reported amount to integer cents.
func (r *PollResult) AmountMinorUnits() int64 {
	return r.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// ExpressCheckoutRequest initiates a mobile-money charge against a phone.
type ExpressCheckoutRequest struct {
	Reference string
	Amount    decimal.Decimal
	Phone     string
	Method    string
	AuthEmail string
}

// InitiateResult is the gateway response to a checkout initiation. PollURL
// is the opaque handle later used to re-query authoritative status.
type InitiateResult struct {
	Success      bool
	PollURL      string
	Instructions string
	Err          string
}
