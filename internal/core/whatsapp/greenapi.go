package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// GreenAPIProvider talks to a Green API instance. These instances cannot push
// webhooks on the free tier, so inbound messages are pulled from the
// provider-side unread queue (FetchUnread) and acknowledged only after local
// persistence (Ack).
type GreenAPIProvider struct {
	instanceID string
	token      string
	baseURL    string
	client     *http.Client
}

func NewGreenAPIProvider(instanceID, token, baseURL string) *GreenAPIProvider {
	if baseURL == "" {
		baseURL = "https://api.green-api.com"
	}
	return &GreenAPIProvider{
		instanceID: instanceID,
		token:      token,
		baseURL:    baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (g *GreenAPIProvider) GetProviderName() string {
	return "GreenAPI"
}

func (g *GreenAPIProvider) endpoint(method string) string {
	return fmt.Sprintf("%s/waInstance%s/%s/%s", g.baseURL, g.instanceID, method, g.token)
}

func (g *GreenAPIProvider) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint("getStateInstance"), nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to green api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("green api returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		StateInstance string `json:"stateInstance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	log := logutil.Component("greenapi")
	if result.StateInstance != "authorized" {
		log.Warn().Str("state", result.StateInstance).Msg("green api instance not authorized")
	} else {
		log.Info().Str("instance", g.instanceID).Msg("green api instance authorized")
	}
	return nil
}

func (g *GreenAPIProvider) Disconnect() {}

func (g *GreenAPIProvider) SendText(ctx context.Context, phoneNumber, text string) (string, error) {
	chatID := cleanPhoneNumber(phoneNumber) + "@c.us"

	payload := map[string]interface{}{
		"chatId":  chatID,
		"message": text,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint("sendMessage"), bytes.NewReader(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("green api returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		IDMessage string `json:"idMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil
	}
	return result.IDMessage, nil
}

// greenNotification mirrors the receiveNotification response shape.
type greenNotification struct {
	ReceiptID int `json:"receiptId"`
	Body      struct {
		TypeWebhook string `json:"typeWebhook"`
		Timestamp   int64  `json:"timestamp"`
		IDMessage   string `json:"idMessage"`
		SenderData  struct {
			ChatID string `json:"chatId"`
			Sender string `json:"sender"`
		} `json:"senderData"`
		MessageData struct {
			TypeMessage     string `json:"typeMessage"`
			TextMessageData struct {
				TextMessage string `json:"textMessage"`
			} `json:"textMessageData"`
		} `json:"messageData"`
	} `json:"body"`
}

// FetchUnread pulls the oldest unread notification. Returns nil when the
// provider queue is empty. Non-message notifications are acked inline and
// skipped so the queue keeps draining.
func (g *GreenAPIProvider) FetchUnread(ctx context.Context) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint("receiveNotification"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("green api returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// Empty queue answers with literal null.
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}

	var n greenNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	receipt := strconv.Itoa(n.ReceiptID)

	if n.Body.TypeWebhook != "incomingMessageReceived" || n.Body.MessageData.TypeMessage != "textMessage" {
		if err := g.Ack(ctx, receipt); err != nil {
			logger := logutil.Component("greenapi")
			logger.Warn().Err(err).Str("receipt", receipt).Msg("failed to ack skipped notification")
		}
		return nil, nil
	}

	return &Event{
		ProviderMessageID: n.Body.IDMessage,
		FromPhone:         cleanPhoneNumber(n.Body.SenderData.Sender),
		Text:              n.Body.MessageData.TextMessageData.TextMessage,
		Type:              "text",
		Timestamp:         time.Unix(n.Body.Timestamp, 0),
		ReceiptID:         receipt,
		Raw:               raw,
	}, nil
}

// Ack deletes a notification from the provider-side queue. Only call after
// the message has been persisted locally; an unacked item is redelivered on
// the next poll.
func (g *GreenAPIProvider) Ack(ctx context.Context, receiptID string) error {
	url := fmt.Sprintf("%s/waInstance%s/deleteNotification/%s/%s", g.baseURL, g.instanceID, g.token, receiptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("green api returned status %d", resp.StatusCode)
	}
	return nil
}

func (g *GreenAPIProvider) StartTyping(ctx context.Context, phoneNumber string) error {
	return g.setTyping(ctx, phoneNumber, true)
}

func (g *GreenAPIProvider) StopTyping(ctx context.Context, phoneNumber string) error {
	return g.setTyping(ctx, phoneNumber, false)
}

func (g *GreenAPIProvider) setTyping(ctx context.Context, phoneNumber string, on bool) error {
	presence := "composing"
	if !on {
		presence = "paused"
	}
	payload := map[string]string{
		"chatId":   cleanPhoneNumber(phoneNumber) + "@c.us",
		"presence": presence,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint("setPresence"), bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && !strings.HasPrefix(resp.Status, "2") {
		return fmt.Errorf("green api returned status %d", resp.StatusCode)
	}
	return nil
}
