package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tajirly/agent-core/internal/models"
)

// Event is a provider-normalized inbound message, before the gateway turns
// it into a persisted row.
type Event struct {
	ProviderMessageID string
	FromPhone         string
	ToPhone           string
	Text              string
	Type              string
	Timestamp         time.Time

	// ReceiptID is the provider-side ack handle for pull-mode providers.
	// Empty for push providers.
	ReceiptID string

	Raw json.RawMessage
}

// Provider abstracts one merchant connection's WhatsApp backend.
type Provider interface {
	Connect(ctx context.Context) error
	Disconnect()

	// SendText delivers a text message and returns the provider's message
	// reference when it exposes one.
	SendText(ctx context.Context, phoneNumber, text string) (string, error)

	StartTyping(ctx context.Context, phoneNumber string) error
	StopTyping(ctx context.Context, phoneNumber string) error

	GetProviderName() string
}

// Puller is implemented by providers whose inbound messages must be pulled
// from an unread queue (webhook-incapable plans). FetchUnread returns nil
// when the queue is empty; Ack clears the item provider-side and must only be
// called after local persistence succeeded.
type Puller interface {
	FetchUnread(ctx context.Context) (*Event, error)
	Ack(ctx context.Context, receiptID string) error
}

// Listener is implemented by providers that push events in-process
// (whatsmeow device sessions).
type Listener interface {
	StartListening(handler func(evt *Event)) error
}

type ProviderType string

const (
	ProviderCloudAPI  ProviderType = "cloudapi"
	ProviderGreenAPI  ProviderType = "greenapi"
	ProviderWhatsmeow ProviderType = "whatsmeow"
)

// NewFromConnection builds the provider for one connection from its stored
// credentials. storeURL is only used by whatsmeow device stores.
func NewFromConnection(conn *models.WhatsAppConnection, storeURL string) (Provider, error) {
	switch ProviderType(conn.Provider) {
	case ProviderCloudAPI:
		var creds struct {
			PhoneID     string `json:"phone_id"`
			AccessToken string `json:"access_token"`
			APIVersion  string `json:"api_version"`
		}
		if err := json.Unmarshal(conn.Credentials, &creds); err != nil {
			return nil, fmt.Errorf("decode cloudapi credentials: %w", err)
		}
		return NewCloudAPIProvider(creds.PhoneID, creds.AccessToken, creds.APIVersion)

	case ProviderGreenAPI:
		var creds struct {
			InstanceID string `json:"instance_id"`
			Token      string `json:"token"`
			APIURL     string `json:"api_url"`
		}
		if err := json.Unmarshal(conn.Credentials, &creds); err != nil {
			return nil, fmt.Errorf("decode greenapi credentials: %w", err)
		}
		if creds.InstanceID == "" || creds.Token == "" {
			return nil, fmt.Errorf("greenapi instance_id and token are required")
		}
		return NewGreenAPIProvider(creds.InstanceID, creds.Token, creds.APIURL), nil

	case ProviderWhatsmeow:
		return NewWhatsmeowProvider(storeURL), nil

	default:
		return nil, fmt.Errorf("unknown whatsapp provider type: %s", conn.Provider)
	}
}
