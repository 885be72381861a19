package highlevel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Opportunity is the CRM deal record slice the pipeline manager touches.
type Opportunity struct {
	ID        string `json:"id"`
	ContactID string `json:"contactId"`
	Name      string `json:"name"`
	StageKey  string `json:"pipelineStageId"`
}

// GetOpportunity fetches one opportunity by id.
func (c *Client) GetOpportunity(ctx context.Context, opportunityID string) (*Opportunity, error) {
	var envelope struct {
		Opportunity Opportunity `json:"opportunity"`
	}
	reqURL := fmt.Sprintf("%s/opportunities/%s", c.baseURL, opportunityID)
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Opportunity, nil
}

// SearchOpportunityByContact looks for an existing deal attached to the
// contact, returning ErrNotFound when none exists.
func (c *Client) SearchOpportunityByContact(ctx context.Context, contactID string) (*Opportunity, error) {
	query := url.Values{}
	query.Set("contact_id", contactID)
	query.Set("location_id", c.locationID)
	reqURL := fmt.Sprintf("%s/opportunities/search?%s", c.baseURL, query.Encode())

	var envelope struct {
		Opportunities []Opportunity `json:"opportunities"`
	}
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Opportunities) == 0 {
		return nil, ErrNotFound
	}
	return &envelope.Opportunities[0], nil
}

// CreateOpportunity opens a deal for the contact at the given stage.
func (c *Client) CreateOpportunity(ctx context.Context, contactID, name, stageKey string) (*Opportunity, error) {
	body := map[string]string{
		"contactId":       contactID,
		"locationId":      c.locationID,
		"name":            name,
		"pipelineStageId": stageKey,
		"status":          "open",
	}
	var envelope struct {
		Opportunity Opportunity `json:"opportunity"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/opportunities", body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Opportunity.ID == "" {
		return nil, fmt.Errorf("highlevel: create opportunity returned no id")
	}
	return &envelope.Opportunity, nil
}

// UpdateOpportunityStage moves a deal to a new pipeline stage.
func (c *Client) UpdateOpportunityStage(ctx context.Context, opportunityID, stageKey string) error {
	body := map[string]string{"pipelineStageId": stageKey}
	reqURL := fmt.Sprintf("%s/opportunities/%s", c.baseURL, opportunityID)
	return c.doJSON(ctx, http.MethodPut, reqURL, body, nil)
}
