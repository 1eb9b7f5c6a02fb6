package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/tajirly/agent-core/internal/models"
)

func greenConnection(apiURL string) *models.WhatsAppConnection {
	return &models.WhatsAppConnection{
		ID:          uuid.New(),
		MerchantID:  uuid.New(),
		PhoneNumber: "9665550001",
		ChannelMode: models.ChannelPolling,
		Provider:    string(ProviderGreenAPI),
		Credentials: datatypes.JSON(fmt.Sprintf(`{"instance_id":"1101","token":"t","api_url":%q}`, apiURL)),
		IsActive:    true,
	}
}

func greenStub(t *testing.T, connectDelay time.Duration, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/waInstance1101/getStateInstance/t":
			if hits != nil {
				hits.Add(1)
			}
			time.Sleep(connectDelay)
			w.Write([]byte(`{"stateInstance": "authorized"}`))
		case r.URL.Path == "/waInstance1101/sendMessage/t":
			w.Write([]byte(`{"idMessage": "BAE5X"}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
}

func TestProviderForCachesAfterFirstConnect(t *testing.T) {
	var hits atomic.Int32
	srv := greenStub(t, 0, &hits)
	defer srv.Close()

	s := NewService("")
	conn := greenConnection(srv.URL)

	first, err := s.ProviderFor(context.Background(), conn)
	require.NoError(t, err)
	second, err := s.ProviderFor(context.Background(), conn)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, hits.Load(), "connect runs once per connection")
}

func TestProviderForSlowConnectDoesNotBlockOtherConnections(t *testing.T) {
	slowSrv := greenStub(t, 500*time.Millisecond, nil)
	defer slowSrv.Close()
	fastSrv := greenStub(t, 0, nil)
	defer fastSrv.Close()

	s := NewService("")
	warm := greenConnection(fastSrv.URL)
	_, err := s.ProviderFor(context.Background(), warm)
	require.NoError(t, err)

	cold := greenConnection(slowSrv.URL)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.ProviderFor(context.Background(), cold)
		assert.NoError(t, err)
	}()

	// Give the cold connect time to be mid-flight.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	_, err = s.SendText(context.Background(), warm, "9665559999", "hi")
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Less(t, elapsed, 300*time.Millisecond,
		"a cached connection's send must not wait on another connection's connect")

	wg.Wait()
	s.Shutdown()
}
