// Package highlevel wraps the CRM REST endpoints this engine depends on:
// contact custom fields, conversations, calendars/appointments, and
// opportunities. Appointment mutations go through the current API first and
// fall back to the legacy API, which still serves some older calendars.
package highlevel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

const (
	defaultBaseURL       = "https://services.leadconnectorhq.com"
	defaultLegacyBaseURL = "https://rest.gohighlevel.com/v1"
	defaultUserAgent     = "studio-booking-engine/0.1"
)

var tracer = otel.Tracer("github.com/inkflow-ai/studio-platform/internal/highlevel")

// ErrNotFound is returned when the CRM reports a missing record.
var ErrNotFound = errors.New("highlevel: not found")

// APIError carries a non-2xx CRM response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("highlevel: api status %d: %s", e.Status, e.Body)
}

// Config controls how the client behaves.
type Config struct {
	BaseURL       string
	LegacyBaseURL string
	APIKey        string
	LocationID    string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *logging.Logger
}

// Client wraps the CRM REST surface used by the booking engine.
type Client struct {
	baseURL       string
	legacyBaseURL string
	apiKey        string
	locationID    string
	httpClient    *http.Client
	logger        *logging.Logger
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("highlevel: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	legacyBaseURL := strings.TrimRight(strings.TrimSpace(cfg.LegacyBaseURL), "/")
	if legacyBaseURL == "" {
		legacyBaseURL = defaultLegacyBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:       baseURL,
		legacyBaseURL: legacyBaseURL,
		apiKey:        cfg.APIKey,
		locationID:    cfg.LocationID,
		httpClient:    httpClient,
		logger:        logger,
	}, nil
}

// doJSON issues one request and decodes the response body into out (when
// non-nil). 404s map to ErrNotFound, other non-2xx to *APIError.
func (c *Client) doJSON(ctx context.Context, method, url string, body any, out any) error {
	ctx, span := tracer.Start(ctx, "highlevel.request")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method))

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("highlevel: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("highlevel: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Version", "2021-07-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("highlevel: %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("highlevel: decode response: %w", err)
	}
	return nil
}

// GetContactFields returns the raw custom-field payload for a contact. The
// shape varies by API version; callers normalize via the fieldstore package.
func (c *Client) GetContactFields(ctx context.Context, contactID string) (any, error) {
	var envelope struct {
		Contact struct {
			CustomFields any `json:"customFields"`
		} `json:"contact"`
	}
	url := fmt.Sprintf("%s/contacts/%s", c.baseURL, contactID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Contact.CustomFields, nil
}

// UpdateContactFields writes custom-field values for a contact. Keys not
// listed are left untouched.
func (c *Client) UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error {
	entries := make([]map[string]string, 0, len(fields))
	for key, value := range fields {
		entries = append(entries, map[string]string{"key": key, "field_value": value})
	}
	body := map[string]any{"customFields": entries}
	url := fmt.Sprintf("%s/contacts/%s", c.baseURL, contactID)
	return c.doJSON(ctx, http.MethodPut, url, body, nil)
}

// SendMessage delivers outbound text on the contact's active channel. The
// channel hint ("SMS", "IG", ...) is advisory; routing is the CRM's concern.
func (c *Client) SendMessage(ctx context.Context, contactID, text, channelHint string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	body := map[string]string{
		"contactId": contactID,
		"message":   text,
		"type":      channelHint,
	}
	url := c.baseURL + "/conversations/messages"
	return c.doJSON(ctx, http.MethodPost, url, body, nil)
}
