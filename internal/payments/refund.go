// Package payments touches the payment provider only for the refund path:
// when a slot is lost to a race after a deposit was captured, the deposit is
// returned automatically before the failure is surfaced.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

var tracer = otel.Tracer("github.com/inkflow-ai/studio-platform/internal/payments")

// Refunder is the narrow interface the booking engine depends on.
type Refunder interface {
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResponse, error)
}

// RefundRequest contains the details for a refund.
type RefundRequest struct {
	PaymentID   string
	AmountCents int32
	Reason      string
}

// RefundResponse contains the result of a refund.
type RefundResponse struct {
	RefundID  string
	Status    string // PENDING, COMPLETED, FAILED, REJECTED
	CreatedAt time.Time
}

// RefundService issues refunds through the Square Refunds API.
type RefundService struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *logging.Logger
}

func NewRefundService(baseURL, accessToken string, logger *logging.Logger) *RefundService {
	if logger == nil {
		logger = logging.Default()
	}
	if baseURL == "" {
		baseURL = "https://connect.squareup.com"
	}
	return &RefundService{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
}

// RefundPayment refunds part or all of a captured payment. The idempotency
// key makes retries safe.
func (s *RefundService) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	ctx, span := tracer.Start(ctx, "payments.refund")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", req.PaymentID))

	if req.PaymentID == "" {
		return nil, fmt.Errorf("payments: payment id is required")
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("payments: refund amount must be positive")
	}

	body := map[string]any{
		"idempotency_key": uuid.NewString(),
		"payment_id":      req.PaymentID,
		"reason":          req.Reason,
		"amount_money": map[string]any{
			"amount":   req.AmountCents,
			"currency": "USD",
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("payments: encode refund: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/refunds", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("payments: build refund request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payments: refund request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("payments: refund status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var envelope struct {
		Refund struct {
			ID        string    `json:"id"`
			Status    string    `json:"status"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"refund"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("payments: decode refund response: %w", err)
	}

	s.logger.Info("refund issued",
		"payment_id", req.PaymentID,
		"refund_id", envelope.Refund.ID,
		"status", envelope.Refund.Status,
	)
	return &RefundResponse{
		RefundID:  envelope.Refund.ID,
		Status:    envelope.Refund.Status,
		CreatedAt: envelope.Refund.CreatedAt,
	}, nil
}
