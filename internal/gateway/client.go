package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/fleet-billing/internal"
)

const expressCheckoutPath = "/interface/remotetransaction"

// ProberAPI is the server-to-server status probe consumed by reconciliation.
type ProberAPI interface {
	Poll(ctx context.Context, pollURL string) (*PollResult, error)
}

// CheckoutAPI is the initiation surface consumed by the checkout flow.
type CheckoutAPI interface {
	InitiateExpressCheckout(ctx context.Context, req *ExpressCheckoutRequest) (*InitiateResult, error)
}

// VerifierAPI authenticates inbound notification bodies.
type VerifierAPI interface {
	VerifyNotification(fields []Field) bool
}

// Client talks the gateway's form-encoded protocol: composite SHA-512
// hashes over ordered field values plus the shared integration key.
type Client struct {
	integrationID  string
	integrationKey string
	baseURL        string
	resultURL      string
	returnURL      string
	client         *http.Client
	logger         *slog.Logger
}

func NewClient(cfg internal.GatewayConfig, logger *slog.Logger) *Client {
	return &Client{
		integrationID:  cfg.IntegrationID,
		integrationKey: cfg.IntegrationKey,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		resultURL:      cfg.ResultURL,
		returnURL:      cfg.ReturnURL,
		client:         &http.Client{Timeout: cfg.PollTimeout},
		logger:         logger,
	}
}

// hash concatenates every field value except the hash field itself, in
// transmitted order, appends the integration key and returns the uppercase
// hex SHA-512 digest. This is the gateway's documented signature scheme.
func (c *Client) hash(fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		if strings.EqualFold(f.Key, "hash") {
			continue
		}
		b.WriteString(f.Value)
	}
	b.WriteString(c.integrationKey)

	sum := sha512.Sum512([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyNotification checks the hash field of an inbound notification
// against the recomputed digest. Constant-time comparison; a missing hash
// field always fails.
func (c *Client) VerifyNotification(fields []Field) bool {
	provided := FieldValue(fields, "hash")
	if provided == "" {
		return false
	}
	expected := c.hash(fields)
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(provided)), []byte(expected)) == 1
}

// Hash exposes the digest for outbound messages and for deriving the
// internal verification proof stored on confirmed payments.
func (c *Client) Hash(fields []Field) string {
	return c.hash(fields)
}

// InitiateExpressCheckout starts a mobile-money transaction. The returned
// poll URL is the only handle for later status probes; the checkout flow is
// its only writer.
func (c *Client) InitiateExpressCheckout(ctx context.Context, req *ExpressCheckoutRequest) (*InitiateResult, error) {
	fields := []Field{
		{Key: "resulturl", Value: c.resultURL},
		{Key: "returnurl", Value: c.returnURL},
		{Key: "reference", Value: req.Reference},
		{Key: "amount", Value: req.Amount.StringFixed(2)},
		{Key: "id", Value: c.integrationID},
		{Key: "authemail", Value: req.AuthEmail},
		{Key: "phone", Value: req.Phone},
		{Key: "method", Value: req.Method},
		{Key: "status", Value: "Message"},
	}
	fields = append(fields, Field{Key: "hash", Value: c.hash(fields)})

	respFields, err := c.post(ctx, c.baseURL+expressCheckoutPath, fields)
	if err != nil {
		return nil, err
	}

	status := FieldValue(respFields, "status")
	if !strings.EqualFold(status, StatusOk) {
		return &InitiateResult{
			Success: false,
			Err:     FieldValue(respFields, "error"),
		}, nil
	}

	pollURL := FieldValue(respFields, "pollurl")
	if pollURL == "" {
		return nil, fmt.Errorf("gateway accepted checkout but returned no poll url")
	}

	return &InitiateResult{
		Success:      true,
		PollURL:      pollURL,
		Instructions: FieldValue(respFields, "instructions"),
	}, nil
}

// Poll re-queries the authoritative transaction status via the stored poll
// URL. The inbound notification body is corroborating evidence only; this
// result decides paid/unpaid.
func (c *Client) Poll(ctx context.Context, pollURL string) (*PollResult, error) {
	respFields, err := c.post(ctx, pollURL, nil)
	if err != nil {
		return nil, err
	}

	status := FieldValue(respFields, "status")
	if status == "" {
		return nil, fmt.Errorf("gateway poll response missing status")
	}

	if providedHash := FieldValue(respFields, "hash"); providedHash != "" {
		if !c.VerifyNotification(respFields) {
			return nil, fmt.Errorf("gateway poll response failed hash verification")
		}
	}

	result := &PollResult{
		Success:          true,
		Paid:             status == StatusPaid,
		Status:           status,
		GatewayReference: FieldValue(respFields, "paynowreference"),
		Raw:              fieldsToMap(respFields),
	}

	if rawAmount := FieldValue(respFields, "amount"); rawAmount != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(rawAmount))
		if err != nil {
			return nil, fmt.Errorf("gateway poll response has invalid amount %q: %w", rawAmount, err)
		}
		result.Amount = amount
	}

	if strings.EqualFold(status, StatusError) {
		result.Success = false
		result.Err = FieldValue(respFields, "error")
	}

	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, fields []Field) ([]Field, error) {
	var body io.Reader
	if len(fields) > 0 {
		body = strings.NewReader(encodeOrdered(fields))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("gateway returned error",
			"status", resp.StatusCode,
			"endpoint", endpoint,
			"response", string(respBody))
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	respFields, err := ParseFields(respBody)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway response: %w", err)
	}
	return respFields, nil
}

// encodeOrdered writes the form body preserving field order, since the hash
// covers values in the order they appear on the wire.
func encodeOrdered(fields []Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.Value))
	}
	return b.String()
}
