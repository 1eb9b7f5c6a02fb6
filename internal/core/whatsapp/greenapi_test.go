package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreenAPIFetchUnreadParsesTextMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/waInstance1101/receiveNotification/token-1", r.URL.Path)
		w.Write([]byte(`{
			"receiptId": 42,
			"body": {
				"typeWebhook": "incomingMessageReceived",
				"timestamp": 1700000000,
				"idMessage": "BAE5F4DC6ABC",
				"senderData": {"chatId": "628111@c.us", "sender": "628111@c.us"},
				"messageData": {
					"typeMessage": "textMessage",
					"textMessageData": {"textMessage": "hello there"}
				}
			}
		}`))
	}))
	defer srv.Close()

	g := NewGreenAPIProvider("1101", "token-1", srv.URL)
	evt, err := g.FetchUnread(context.Background())
	require.NoError(t, err)
	require.NotNil(t, evt)

	assert.Equal(t, "BAE5F4DC6ABC", evt.ProviderMessageID)
	assert.Equal(t, "628111", evt.FromPhone)
	assert.Equal(t, "hello there", evt.Text)
	assert.Equal(t, "text", evt.Type)
	assert.Equal(t, "42", evt.ReceiptID)
	assert.NotEmpty(t, evt.Raw)
}

func TestGreenAPIFetchUnreadEmptyQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	}))
	defer srv.Close()

	g := NewGreenAPIProvider("1101", "token-1", srv.URL)
	evt, err := g.FetchUnread(context.Background())
	require.NoError(t, err)
	assert.Nil(t, evt)
}

func TestGreenAPIFetchUnreadSkipsAndAcksNonText(t *testing.T) {
	var acked atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "deleteNotification") {
			require.Equal(t, http.MethodDelete, r.Method)
			require.True(t, strings.HasSuffix(r.URL.Path, "/7"))
			acked.Store(true)
			w.Write([]byte(`{"result": true}`))
			return
		}
		w.Write([]byte(`{
			"receiptId": 7,
			"body": {
				"typeWebhook": "incomingMessageReceived",
				"messageData": {"typeMessage": "imageMessage"}
			}
		}`))
	}))
	defer srv.Close()

	g := NewGreenAPIProvider("1101", "token-1", srv.URL)
	evt, err := g.FetchUnread(context.Background())
	require.NoError(t, err)
	assert.Nil(t, evt, "non-text notifications are not surfaced")
	assert.True(t, acked.Load(), "skipped notifications are acked so the queue drains")
}

func TestGreenAPISendTextReturnsMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/waInstance1101/sendMessage/token-1", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"idMessage": "BAE5OUT123"}`))
	}))
	defer srv.Close()

	g := NewGreenAPIProvider("1101", "token-1", srv.URL)
	id, err := g.SendText(context.Background(), "+628111", "hi")
	require.NoError(t, err)
	assert.Equal(t, "BAE5OUT123", id)
}

func TestGreenAPISendTextSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "quota exceeded"}`))
	}))
	defer srv.Close()

	g := NewGreenAPIProvider("1101", "token-1", srv.URL)
	_, err := g.SendText(context.Background(), "628111", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCleanPhoneNumber(t *testing.T) {
	assert.Equal(t, "628111", cleanPhoneNumber("+628111"))
	assert.Equal(t, "628111", cleanPhoneNumber("628111@c.us"))
	assert.Equal(t, "628111", cleanPhoneNumber("628111@s.whatsapp.net"))
	assert.Equal(t, "628111", cleanPhoneNumber("628111"))
}
