package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// CloudAPIProvider implements the official WhatsApp Cloud API. Inbound
// messages arrive through the platform webhook; this provider only sends.
type CloudAPIProvider struct {
	baseURL     string
	phoneID     string
	accessToken string
	client      *http.Client
}

func NewCloudAPIProvider(phoneID, accessToken, apiVersion string) (*CloudAPIProvider, error) {
	if phoneID == "" {
		return nil, fmt.Errorf("phone_id is required")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access_token is required")
	}
	if apiVersion == "" {
		apiVersion = "v18.0"
	}

	return &CloudAPIProvider{
		baseURL:     fmt.Sprintf("https://graph.facebook.com/%s/%s", apiVersion, phoneID),
		phoneID:     phoneID,
		accessToken: accessToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (p *CloudAPIProvider) GetProviderName() string {
	return "CloudAPI"
}

// Connect is a no-op for Cloud API (always reachable via HTTP).
func (p *CloudAPIProvider) Connect(ctx context.Context) error {
	logger := logutil.Component("cloudapi")
	logger.Info().Str("phone_id", p.phoneID).Msg("whatsapp cloud api initialized")
	return nil
}

func (p *CloudAPIProvider) Disconnect() {}

func (p *CloudAPIProvider) SendText(ctx context.Context, phoneNumber, text string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                cleanPhoneNumber(phoneNumber),
		"type":              "text",
		"text": map[string]string{
			"body": text,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cloud api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Messages) == 0 {
		return "", nil
	}
	return result.Messages[0].ID, nil
}

// Cloud API has no typing-indicator endpoint for outbound-only flows.
func (p *CloudAPIProvider) StartTyping(ctx context.Context, phoneNumber string) error { return nil }
func (p *CloudAPIProvider) StopTyping(ctx context.Context, phoneNumber string) error  { return nil }

// cleanPhoneNumber strips the leading + and any chat suffix like @c.us.
func cleanPhoneNumber(phone string) string {
	phone = strings.TrimPrefix(phone, "+")
	if i := strings.Index(phone, "@"); i >= 0 {
		phone = phone[:i]
	}
	return phone
}
