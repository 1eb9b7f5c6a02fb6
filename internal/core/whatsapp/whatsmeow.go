package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// WhatsmeowProvider runs a self-hosted WhatsApp device session. It is a push
// channel: the linked device receives events over the websocket and feeds
// them to the registered listener, no webhook or polling involved.
type WhatsmeowProvider struct {
	client   *whatsmeow.Client
	storeURL string
}

func NewWhatsmeowProvider(storeURL string) *WhatsmeowProvider {
	return &WhatsmeowProvider{storeURL: storeURL}
}

func (w *WhatsmeowProvider) GetProviderName() string {
	return "Whatsmeow"
}

func (w *WhatsmeowProvider) initStore(ctx context.Context) (*sqlstore.Container, error) {
	dbLog := waLog.Stdout("Database", "ERROR", true)

	if w.storeURL != "" {
		container, err := sqlstore.New(ctx, "postgres", w.storeURL, dbLog)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := container.Upgrade(ctx); err != nil {
			return nil, fmt.Errorf("upgrade postgres store schema: %w", err)
		}
		return container, nil
	}

	rawDB, err := sql.Open("sqlite", "file:store.db?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := rawDB.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		logger := logutil.Component("whatsmeow")
		logger.Warn().Err(err).Msg("failed to enable foreign_keys pragma")
	}

	container := sqlstore.NewWithDB(rawDB, "sqlite", dbLog)
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade sqlite store schema: %w", err)
	}
	return container, nil
}

func (w *WhatsmeowProvider) Connect(ctx context.Context) error {
	container, err := w.initStore(ctx)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	w.client = whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "WARN", true))

	log := logutil.Component("whatsmeow")
	if w.client.Store.ID == nil {
		log.Warn().Msg("device not linked yet, pairing QR required")
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	log.Info().Msg("whatsmeow session connected")
	return nil
}

func (w *WhatsmeowProvider) Disconnect() {
	if w.client != nil {
		w.client.Disconnect()
	}
}

func (w *WhatsmeowProvider) SendText(ctx context.Context, phoneNumber, text string) (string, error) {
	if w.client == nil {
		return "", fmt.Errorf("client not initialized")
	}

	jid := types.NewJID(cleanPhoneNumber(phoneNumber), types.DefaultUserServer)
	msg := &waE2E.Message{
		Conversation: proto.String(text),
	}

	resp, err := w.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

// StartListening converts whatsmeow push events into normalized Events.
// Non-text and self-sent messages are dropped here; everything else is the
// gateway's concern.
func (w *WhatsmeowProvider) StartListening(handler func(evt *Event)) error {
	if w.client == nil {
		return fmt.Errorf("client not initialized")
	}

	w.client.AddEventHandler(func(raw interface{}) {
		msg, ok := raw.(*events.Message)
		if !ok || msg.Info.IsFromMe {
			return
		}

		text := msg.Message.GetConversation()
		if text == "" {
			text = msg.Message.GetExtendedTextMessage().GetText()
		}
		if text == "" {
			return
		}

		handler(&Event{
			ProviderMessageID: string(msg.Info.ID),
			FromPhone:         msg.Info.Sender.User,
			Text:              text,
			Type:              "text",
			Timestamp:         msg.Info.Timestamp,
		})
	})
	return nil
}

// PairingQR connects an unlinked device and returns the pairing QR as a PNG.
// The temporary client disconnects itself after the pairing window.
func (w *WhatsmeowProvider) PairingQR(ctx context.Context) ([]byte, error) {
	container, err := w.initStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "WARN", true))
	qrChan, _ := client.GetQRChannel(ctx)

	go func() {
		_ = client.Connect()
	}()

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			png, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
			if err != nil {
				client.Disconnect()
				return nil, fmt.Errorf("encode qr png: %w", err)
			}
			go func(cli *whatsmeow.Client) {
				time.Sleep(5 * time.Minute)
				cli.Disconnect()
			}(client)
			return png, nil
		case "timeout", "error":
			client.Disconnect()
			return nil, fmt.Errorf("qr generation failed: %s", evt.Event)
		}
	}

	return nil, fmt.Errorf("no QR generated")
}

func (w *WhatsmeowProvider) StartTyping(ctx context.Context, phoneNumber string) error {
	return w.sendChatPresence(ctx, phoneNumber, types.ChatPresenceComposing)
}

func (w *WhatsmeowProvider) StopTyping(ctx context.Context, phoneNumber string) error {
	return w.sendChatPresence(ctx, phoneNumber, types.ChatPresencePaused)
}

func (w *WhatsmeowProvider) sendChatPresence(ctx context.Context, phoneNumber string, state types.ChatPresence) error {
	if w.client == nil || !w.client.IsConnected() {
		return fmt.Errorf("whatsmeow client not connected")
	}
	jid := types.NewJID(cleanPhoneNumber(phoneNumber), types.DefaultUserServer)
	return w.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// StartKeepAlive pings presence periodically so long-lived device sessions
// are not dropped.
func (w *WhatsmeowProvider) StartKeepAlive(ctx context.Context) {
	if w.client == nil {
		return
	}

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	log := logutil.Component("whatsmeow")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.client.IsConnected() {
				if err := w.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
					log.Warn().Err(err).Msg("keep-alive ping failed")
				}
			}
		}
	}
}
