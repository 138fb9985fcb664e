// Package crm is the HTTP client for the external CRM. It exposes the
// three operations the delivery worker needs (duplicate search, lead
// creation, note attachment) and classifies failures so the worker knows
// whether a retry can help.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const requestTimeout = 15 * time.Second

// Error is a failed CRM call. Transient errors are worth retrying on the
// worker's schedule; everything else needs an operator.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("crm request failed with status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether a retry may succeed.
func (e *Error) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies any error from this package. Network-level
// failures count as transient.
func IsTransient(err error) bool {
	var crmErr *Error
	if errors.As(err, &crmErr) {
		return crmErr.Transient()
	}
	return err != nil
}

// LeadPayload is the wire form of a new CRM lead.
type LeadPayload struct {
	LastName                  string `json:"last_name"`
	FirstCommunicationChannel string `json:"lead_first_communication_channel"`
	Phone                     string `json:"phone,omitempty"`
	Email                     string `json:"email,omitempty"`
	Whatsapp                  string `json:"whatsapp,omitempty"`
	Company                   string `json:"company,omitempty"`
	Telegram                  string `json:"telegram,omitempty"`
	Description               string `json:"description,omitempty"`
}

// Record is an existing CRM lead returned by the duplicate search.
type Record struct {
	ID       string `json:"id"`
	LastName string `json:"last_name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

// Client talks to the CRM REST API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// SearchByContact looks for an existing lead by phone or email. A nil
// record means no duplicate.
func (c *Client) SearchByContact(ctx context.Context, phone, email string) (*Record, error) {
	body := map[string]string{}
	if phone != "" {
		body["phone"] = phone
	}
	if email != "" {
		body["email"] = email
	}
	var result struct {
		Records []*Record `json:"records"`
	}
	if err := c.post(ctx, "/leads/search", body, &result); err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	return result.Records[0], nil
}

// CreateLead creates a new CRM lead and returns its id.
func (c *Client) CreateLead(ctx context.Context, payload *LeadPayload) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/leads", payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errors.New("crm returned no lead id")
	}
	return result.ID, nil
}

// AddNote attaches text to an existing CRM lead.
func (c *Client) AddNote(ctx context.Context, leadID, text string) error {
	return c.post(ctx, "/leads/"+leadID+"/notes", map[string]string{"content": text}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal crm request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build crm request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "crm request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "failed to read crm response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "failed to decode crm response")
}
