package repositories

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tajirly/agent-core/internal/models"
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
		&models.BotSettings{},
		&models.WhatsAppConnection{},
		&models.Conversation{},
		&models.Message{},
		&models.Product{},
	))
	// Same partial unique index the production migration creates; GORM tags
	// cannot express the predicate.
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_open_conversation
		ON conversations(merchant_id, customer_phone) WHERE status <> 'closed'`).Error)
	return db
}

func seedMerchantAndConnection(t *testing.T, db *gorm.DB) (*models.Merchant, *models.WhatsAppConnection) {
	t.Helper()
	merchant := &models.Merchant{Name: "Test Store", Timezone: "UTC", AutoReplyEnabled: true}
	require.NoError(t, db.Create(merchant).Error)

	conn := &models.WhatsAppConnection{
		MerchantID:  merchant.ID,
		PhoneNumber: "9665550001",
		ChannelMode: models.ChannelWebhook,
		Provider:    "cloudapi",
		IsActive:    true,
	}
	require.NoError(t, db.Create(conn).Error)
	return merchant, conn
}

func strPtr(s string) *string { return &s }

func TestGetOrCreateFirstContact(t *testing.T) {
	db := newTestDB(t)
	merchant, _ := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv, created, err := repo.GetOrCreate(ctx, merchant.ID, "9665559999")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ConversationActive, conv.Status)

	again, created, err := repo.GetOrCreate(ctx, merchant.ID, "9665559999")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
}

func TestGetOrCreateConcurrentFirstContact(t *testing.T) {
	db := newTestDB(t)
	merchant, _ := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)

	const n = 10
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	createdCount := make([]bool, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, created, err := repo.GetOrCreate(context.Background(), merchant.ID, "9665558888")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
			createdCount[i] = created
		}(i)
	}
	wg.Wait()

	creators := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "all callers must converge on one conversation")
		if createdCount[i] {
			creators++
		}
	}
	assert.Equal(t, 1, creators, "exactly one caller creates the conversation")

	var count int64
	require.NoError(t, db.Model(&models.Conversation{}).
		Where("merchant_id = ?", merchant.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGetOrCreateAfterCloseStartsFreshConversation(t *testing.T) {
	db := newTestDB(t)
	merchant, _ := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	first, created, err := repo.GetOrCreate(ctx, merchant.ID, "9665556666")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, db.Model(&models.Conversation{}).
		Where("id = ?", first.ID).
		Update("last_message_at", time.Now().Add(-96*time.Hour)).Error)
	closed, err := repo.CloseIdle(ctx, time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, closed)

	// The returning customer gets a fresh conversation; the closed one stays.
	second, created, err := repo.GetOrCreate(ctx, merchant.ID, "9665556666")
	require.NoError(t, err)
	assert.True(t, created, "a closed conversation must not block a new one")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.ConversationActive, second.Status)

	var count int64
	require.NoError(t, db.Model(&models.Conversation{}).
		Where("merchant_id = ? AND customer_phone = ?", merchant.ID, "9665556666").
		Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestAppendMessageDedup(t *testing.T) {
	db := newTestDB(t)
	merchant, conn := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv, _, err := repo.GetOrCreate(ctx, merchant.ID, "9665557777")
	require.NoError(t, err)

	first := &models.Message{
		ConversationID:    conv.ID,
		ConnectionID:      conn.ID,
		Direction:         models.DirectionIncoming,
		Content:           "hello",
		MessageType:       "text",
		ProviderMessageID: strPtr("wamid.1"),
	}
	require.NoError(t, repo.AppendMessage(ctx, first))

	dup := &models.Message{
		ConversationID:    conv.ID,
		ConnectionID:      conn.ID,
		Direction:         models.DirectionIncoming,
		Content:           "hello",
		MessageType:       "text",
		ProviderMessageID: strPtr("wamid.1"),
	}
	err = repo.AppendMessage(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	var count int64
	require.NoError(t, db.Model(&models.Message{}).
		Where("conversation_id = ?", conv.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAppendMessageWithoutProviderIDNeverCollides(t *testing.T) {
	db := newTestDB(t)
	merchant, conn := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv, _, err := repo.GetOrCreate(ctx, merchant.ID, "9665557766")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		msg := &models.Message{
			ConversationID: conv.ID,
			ConnectionID:   conn.ID,
			Direction:      models.DirectionOutgoing,
			Content:        fmt.Sprintf("reply %d", i),
			MessageType:    "text",
		}
		require.NoError(t, repo.AppendMessage(ctx, msg))
	}

	var count int64
	require.NoError(t, db.Model(&models.Message{}).
		Where("conversation_id = ?", conv.ID).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func TestAppendMessageBumpsLastMessageAt(t *testing.T) {
	db := newTestDB(t)
	merchant, conn := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv, _, err := repo.GetOrCreate(ctx, merchant.ID, "9665557755")
	require.NoError(t, err)
	before := conv.LastMessageAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, repo.AppendMessage(ctx, &models.Message{
		ConversationID:    conv.ID,
		ConnectionID:      conn.ID,
		Direction:         models.DirectionIncoming,
		Content:           "ping",
		MessageType:       "text",
		ProviderMessageID: strPtr("wamid.bump"),
	}))

	var reloaded models.Conversation
	require.NoError(t, db.First(&reloaded, "id = ?", conv.ID).Error)
	assert.True(t, reloaded.LastMessageAt.After(before))
}

func TestRecentMessagesReturnsChronologicalWindow(t *testing.T) {
	db := newTestDB(t)
	merchant, conn := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv, _, err := repo.GetOrCreate(ctx, merchant.ID, "9665557744")
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		msg := &models.Message{
			ConversationID:    conv.ID,
			ConnectionID:      conn.ID,
			Direction:         models.DirectionIncoming,
			Content:           fmt.Sprintf("msg %d", i),
			MessageType:       "text",
			ProviderMessageID: strPtr(fmt.Sprintf("wamid.%d", i)),
			CreatedAt:         base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(msg).Error)
	}

	msgs, err := repo.RecentMessages(ctx, conv.ID, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	// Newest five, oldest first.
	assert.Equal(t, "msg 3", msgs[0].Content)
	assert.Equal(t, "msg 7", msgs[4].Content)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"created_at must be non-decreasing")
	}
}

func TestCloseIdle(t *testing.T) {
	db := newTestDB(t)
	merchant, _ := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	stale := &models.Conversation{
		MerchantID:    merchant.ID,
		CustomerPhone: "9665551111",
		Status:        models.ConversationActive,
		LastMessageAt: time.Now().Add(-96 * time.Hour),
	}
	fresh := &models.Conversation{
		MerchantID:    merchant.ID,
		CustomerPhone: "9665552222",
		Status:        models.ConversationActive,
		LastMessageAt: time.Now(),
	}
	require.NoError(t, db.Create(stale).Error)
	require.NoError(t, db.Create(fresh).Error)

	closed, err := repo.CloseIdle(ctx, time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, closed)

	var reloaded models.Conversation
	require.NoError(t, db.First(&reloaded, "id = ?", stale.ID).Error)
	assert.Equal(t, models.ConversationClosed, reloaded.Status)

	var reloadedFresh models.Conversation
	require.NoError(t, db.First(&reloadedFresh, "id = ?", fresh.ID).Error)
	assert.Equal(t, models.ConversationActive, reloadedFresh.Status)
}

func TestSetDeliveryError(t *testing.T) {
	db := newTestDB(t)
	merchant, _ := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv, _, err := repo.GetOrCreate(ctx, merchant.ID, "9665553333")
	require.NoError(t, err)

	require.NoError(t, repo.SetDeliveryError(ctx, conv.ID, "provider timeout"))
	var reloaded models.Conversation
	require.NoError(t, db.First(&reloaded, "id = ?", conv.ID).Error)
	assert.Equal(t, "provider timeout", reloaded.LastDeliveryError)

	require.NoError(t, repo.SetDeliveryError(ctx, conv.ID, ""))
	require.NoError(t, db.First(&reloaded, "id = ?", conv.ID).Error)
	assert.Empty(t, reloaded.LastDeliveryError)
}

func TestFindByProviderMessageID(t *testing.T) {
	db := newTestDB(t)
	merchant, conn := seedMerchantAndConnection(t, db)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv, _, err := repo.GetOrCreate(ctx, merchant.ID, "9665554444")
	require.NoError(t, err)

	missing, err := repo.FindByProviderMessageID(ctx, conn.ID, "wamid.none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.AppendMessage(ctx, &models.Message{
		ConversationID:    conv.ID,
		ConnectionID:      conn.ID,
		Direction:         models.DirectionIncoming,
		Content:           "hi",
		MessageType:       "text",
		ProviderMessageID: strPtr("wamid.find"),
	}))

	found, err := repo.FindByProviderMessageID(ctx, conn.ID, "wamid.find")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "hi", found.Content)
}
