package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/config"
)

// APIError is an error-bearing response from the Cloud API. Its code/title
// feed the cool-off classification.
type APIError struct {
	Code  int    `json:"code"`
	Title string `json:"title"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud api error %d: %s", e.Code, e.Title)
}

// Sender is the outbound surface the orchestrator and webhook need.
type Sender interface {
	SendTemplate(ctx context.Context, to string, tmpl Template) (string, error)
}

// Client talks to the WhatsApp Business Cloud API.
type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	defaultCC     string
	http          *http.Client
	log           zerolog.Logger
}

func NewClient(cfg config.WhatsAppConfig, log zerolog.Logger) *Client {
	return &Client{
		baseURL:       cfg.BaseURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		defaultCC:     cfg.DefaultCountryCode,
		http:          &http.Client{Timeout: 30 * time.Second},
		log:           log.With().Str("component", "channel").Logger(),
	}
}

type messagePayload struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templatePayload `json:"template"`
}

type templatePayload struct {
	Name       string             `json:"name"`
	Language   languagePayload    `json:"language"`
	Components []componentPayload `json:"components,omitempty"`
}

type languagePayload struct {
	Code string `json:"code"`
}

type componentPayload struct {
	Type       string             `json:"type"`
	Parameters []parameterPayload `json:"parameters,omitempty"`
}

type parameterPayload struct {
	Type  string        `json:"type"`
	Text  string        `json:"text,omitempty"`
	Image *imagePayload `json:"image,omitempty"`
}

type imagePayload struct {
	Link string `json:"link"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error"`
}

// SendTemplate submits one templated message and returns the provider's
// message id (wamid). An error-bearing or non-2xx response comes back as
// *APIError; transport failures come back as-is.
func (c *Client) SendTemplate(ctx context.Context, to string, tmpl Template) (string, error) {
	payload := messagePayload{
		MessagingProduct: "whatsapp",
		To:               NormalizeMSISDN(to, c.defaultCC),
		Type:             "template",
		Template:         tmpl.payload(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return "", parsed.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Code: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
	}
	if len(parsed.Messages) == 0 {
		return "", fmt.Errorf("response carried no message id")
	}

	wamid := parsed.Messages[0].ID
	c.log.Debug().Str("to", payload.To).Str("template", tmpl.Name).Str("wamid", wamid).Msg("message accepted")
	return wamid, nil
}
