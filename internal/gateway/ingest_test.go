package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tajirly/agent-core/internal/models"
	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/shared/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Merchant{},
		&models.WhatsAppConnection{},
		&models.Conversation{},
		&models.Message{},
	))
	// Same partial unique index the production migration creates; GORM tags
	// cannot express the predicate.
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_open_conversation
		ON conversations(merchant_id, customer_phone) WHERE status <> 'closed'`).Error)
	return db
}

type triggerRecorder struct {
	mu    sync.Mutex
	calls []bool // firstContact flag per call
}

func (r *triggerRecorder) TriggerReply(conn *models.WhatsAppConnection, conv *models.Conversation, msg *models.Message, firstContact bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, firstContact)
}

func (r *triggerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func setupIngestor(t *testing.T) (*Ingestor, *triggerRecorder, *gorm.DB, *models.WhatsAppConnection) {
	t.Helper()
	db := newTestDB(t)

	merchant := &models.Merchant{Name: "Store", Timezone: "UTC", AutoReplyEnabled: true}
	require.NoError(t, db.Create(merchant).Error)
	conn := &models.WhatsAppConnection{
		MerchantID:  merchant.ID,
		PhoneNumber: "9665550001",
		ChannelMode: models.ChannelWebhook,
		Provider:    "cloudapi",
		IsActive:    true,
	}
	require.NoError(t, db.Create(conn).Error)

	trigger := &triggerRecorder{}
	ingestor := NewIngestor(
		repositories.NewConnectionRepo(db),
		repositories.NewConversationRepo(db),
		trigger,
	)
	return ingestor, trigger, db, conn
}

func inbound(providerID, from, to, text string) InboundMessage {
	return InboundMessage{
		ProviderMessageID: providerID,
		FromPhone:         from,
		ToPhone:           to,
		Text:              text,
		Type:              "text",
		Raw:               json.RawMessage(`{"body":"` + text + `"}`),
	}
}

func TestIngestPersistsAndTriggers(t *testing.T) {
	ingestor, trigger, db, conn := setupIngestor(t)

	res, err := ingestor.Ingest(context.Background(),
		inbound("wamid.1", "9665559999", conn.PhoneNumber, "hello"), ChannelWebhook)
	require.NoError(t, err)

	assert.False(t, res.Ignored)
	assert.False(t, res.Duplicate)
	assert.True(t, res.FirstContact)
	require.NotNil(t, res.Conversation)
	require.NotNil(t, res.Message)
	assert.Equal(t, models.DirectionIncoming, res.Message.Direction)
	assert.NotEmpty(t, res.Message.Payload)

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, 1, trigger.count())
}

func TestIngestDuplicateAcrossChannels(t *testing.T) {
	ingestor, trigger, db, conn := setupIngestor(t)
	ctx := context.Background()

	msg := inbound("wamid.dup", "9665559999", conn.PhoneNumber, "hello")

	first, err := ingestor.Ingest(ctx, msg, ChannelWebhook)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := ingestor.Ingest(ctx, msg, ChannelPolling)
	require.NoError(t, err)
	assert.True(t, second.Duplicate, "second delivery is a success no-op")

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "dual delivery collapses onto one row")
	assert.Equal(t, 1, trigger.count(), "only the winning delivery triggers a reply")
}

func TestIngestUnknownConnectionDropped(t *testing.T) {
	ingestor, trigger, db, _ := setupIngestor(t)

	_, err := ingestor.Ingest(context.Background(),
		inbound("wamid.x", "9665559999", "000000", "hi"), ChannelWebhook)
	assert.ErrorIs(t, err, ErrUnknownConnection)

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, trigger.count())
}

func TestIngestIgnoresNonText(t *testing.T) {
	ingestor, trigger, _, conn := setupIngestor(t)
	ctx := context.Background()

	img := inbound("wamid.img", "9665559999", conn.PhoneNumber, "")
	img.Type = "image"
	res, err := ingestor.Ingest(ctx, img, ChannelWebhook)
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	empty := inbound("wamid.empty", "9665559999", conn.PhoneNumber, "")
	res, err = ingestor.Ingest(ctx, empty, ChannelWebhook)
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	assert.Zero(t, trigger.count())
}

func TestIngestSecondMessageIsNotFirstContact(t *testing.T) {
	ingestor, _, _, conn := setupIngestor(t)
	ctx := context.Background()

	first, err := ingestor.Ingest(ctx,
		inbound("wamid.a", "9665559999", conn.PhoneNumber, "hi"), ChannelWebhook)
	require.NoError(t, err)
	assert.True(t, first.FirstContact)

	second, err := ingestor.Ingest(ctx,
		inbound("wamid.b", "9665559999", conn.PhoneNumber, "still there?"), ChannelWebhook)
	require.NoError(t, err)
	assert.False(t, second.FirstContact)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func TestIngestAfterSweeperCloseIsFirstContactAgain(t *testing.T) {
	ingestor, _, db, conn := setupIngestor(t)
	ctx := context.Background()

	first, err := ingestor.Ingest(ctx,
		inbound("wamid.s1", "9665559999", conn.PhoneNumber, "hi"), ChannelWebhook)
	require.NoError(t, err)
	require.True(t, first.FirstContact)

	require.NoError(t, db.Model(&models.Conversation{}).
		Where("id = ?", first.Conversation.ID).
		Update("status", models.ConversationClosed).Error)

	second, err := ingestor.Ingest(ctx,
		inbound("wamid.s2", "9665559999", conn.PhoneNumber, "hello again"), ChannelWebhook)
	require.NoError(t, err)
	assert.True(t, second.FirstContact, "a returning customer starts a fresh thread")
	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
}

func TestIngestConcurrentDistinctMessages(t *testing.T) {
	ingestor, _, db, conn := setupIngestor(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := inbound(fmt.Sprintf("wamid.c%d", i), "9665559999", conn.PhoneNumber, fmt.Sprintf("m%d", i))
			_, errs[i] = ingestor.Ingest(context.Background(), msg, ChannelWebhook)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	var msgs []models.Message
	require.NoError(t, db.Order("created_at ASC").Find(&msgs).Error)
	require.Len(t, msgs, n, "all distinct messages must be present")
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}

	var convCount int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&convCount).Error)
	assert.EqualValues(t, 1, convCount, "same customer stays in one conversation")
}
