package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tajirly/agent-core/internal/core/eligibility"
	"github.com/tajirly/agent-core/internal/core/whatsapp"
	"github.com/tajirly/agent-core/internal/models"
	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

const replyTimeout = 45 * time.Second

// Pipeline turns a persisted inbound message into an outbound reply: gate on
// the merchant kill switch and working hours, generate or pick the fallback,
// and hand the text to the dispatcher. TriggerReply returns immediately; the
// work runs on its own goroutine so webhook acks and poll ticks never wait on
// LLM or send latency.
type Pipeline struct {
	merchantRepo repositories.MerchantRepo
	settingsRepo repositories.SettingsRepo
	wa           *whatsapp.Service
	responder    *Responder
	dispatcher   *Dispatcher
}

func NewPipeline(
	merchantRepo repositories.MerchantRepo,
	settingsRepo repositories.SettingsRepo,
	wa *whatsapp.Service,
	responder *Responder,
	dispatcher *Dispatcher,
) *Pipeline {
	return &Pipeline{
		merchantRepo: merchantRepo,
		settingsRepo: settingsRepo,
		wa:           wa,
		responder:    responder,
		dispatcher:   dispatcher,
	}
}

func (p *Pipeline) TriggerReply(conn *models.WhatsAppConnection, conv *models.Conversation, msg *models.Message, firstContact bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		p.process(ctx, conn, conv, msg, firstContact)
	}()
}

func (p *Pipeline) process(ctx context.Context, conn *models.WhatsAppConnection, conv *models.Conversation, msg *models.Message, firstContact bool) {
	log := logutil.Component("pipeline").With().
		Str("merchant_id", conn.MerchantID.String()).
		Str("conversation_id", conv.ID.String()).
		Logger()

	merchant, err := p.merchantRepo.GetByID(ctx, conn.MerchantID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load merchant, skipping reply")
		return
	}
	if !merchant.AutoReplyEnabled {
		log.Info().Msg("merchant auto-reply disabled, staying silent")
		return
	}

	settings, err := p.settingsRepo.GetByMerchant(ctx, merchant.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load bot settings, skipping reply")
		return
	}

	decision := eligibility.Decide(snapshotSettings(settings), p.merchantNow(merchant))
	log.Info().
		Str("action", string(decision.Action)).
		Str("reason", decision.Reason).
		Msg("eligibility decided")

	switch decision.Action {
	case eligibility.ActionSilent:
		return

	case eligibility.ActionFallback:
		if decision.Fallback == "" {
			// Nothing configured for out-of-hours; silence beats a blank send.
			return
		}
		if _, err := p.dispatcher.Deliver(ctx, conn, conv, decision.Fallback); err != nil {
			log.Error().Err(err).Msg("failed to deliver out-of-hours message")
		}
		return

	case eligibility.ActionRespond:
		p.respond(ctx, conn, conv, merchant, settings, msg, firstContact, log)
	}
}

func (p *Pipeline) respond(
	ctx context.Context,
	conn *models.WhatsAppConnection,
	conv *models.Conversation,
	merchant *models.Merchant,
	settings *models.BotSettings,
	msg *models.Message,
	firstContact bool,
	log zerolog.Logger,
) {
	p.setTyping(ctx, conn, conv.CustomerPhone, true)
	defer p.setTyping(ctx, conn, conv.CustomerPhone, false)

	reply := p.responder.Generate(ctx, merchant, settings, conv.ID, msg.Content)

	if firstContact && settings.WelcomeMessage != "" {
		reply = settings.WelcomeMessage + "\n\n" + reply
	}

	if settings.ResponseDelaySeconds > 0 {
		select {
		case <-ctx.Done():
			log.Warn().Msg("reply timed out during response delay")
			return
		case <-time.After(time.Duration(settings.ResponseDelaySeconds) * time.Second):
		}
	}

	if _, err := p.dispatcher.Deliver(ctx, conn, conv, reply); err != nil {
		log.Error().Err(err).Msg("failed to deliver reply")
	}
}

// setTyping is best effort; a provider without presence support is fine.
func (p *Pipeline) setTyping(ctx context.Context, conn *models.WhatsAppConnection, phone string, on bool) {
	if p.wa == nil {
		return
	}
	provider, err := p.wa.ProviderFor(ctx, conn)
	if err != nil {
		return
	}
	if on {
		_ = provider.StartTyping(ctx, phone)
		return
	}
	_ = provider.StopTyping(ctx, phone)
}

// Status reports what the agent would do for this merchant right now. Used by
// the settings dashboard banner.
type Status struct {
	MerchantID   uuid.UUID `json:"merchant_id"`
	WouldRespond bool      `json:"would_respond"`
	Action       string    `json:"action"`
	Reason       string    `json:"reason"`
	LocalTime    string    `json:"local_time"`
}

// ShouldRespond evaluates the eligibility rules against the merchant's
// current local time without touching any conversation.
func (p *Pipeline) ShouldRespond(ctx context.Context, merchantID uuid.UUID) (*Status, error) {
	merchant, err := p.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	now := p.merchantNow(merchant)

	if !merchant.AutoReplyEnabled {
		return &Status{
			MerchantID: merchantID,
			Action:     string(eligibility.ActionSilent),
			Reason:     eligibility.ReasonDisabled,
			LocalTime:  now.Format(time.RFC3339),
		}, nil
	}

	settings, err := p.settingsRepo.GetByMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	decision := eligibility.Decide(snapshotSettings(settings), now)
	return &Status{
		MerchantID:   merchantID,
		WouldRespond: decision.Action == eligibility.ActionRespond,
		Action:       string(decision.Action),
		Reason:       decision.Reason,
		LocalTime:    now.Format(time.RFC3339),
	}, nil
}

// merchantNow converts wall-clock time into the merchant's timezone. An
// unknown zone falls back to UTC instead of failing the message.
func (p *Pipeline) merchantNow(merchant *models.Merchant) time.Time {
	loc, err := time.LoadLocation(merchant.Timezone)
	if err != nil {
		logger := logutil.Component("pipeline")
		logger.Warn().
			Str("merchant_id", merchant.ID.String()).
			Str("timezone", merchant.Timezone).
			Msg("unknown merchant timezone, using UTC")
		loc = time.UTC
	}
	return time.Now().In(loc)
}

func snapshotSettings(s *models.BotSettings) eligibility.Settings {
	return eligibility.Settings{
		AutoReplyEnabled:    s.AutoReplyEnabled,
		WorkingHoursEnabled: s.WorkingHoursEnabled,
		WorkingHoursStart:   s.WorkingHoursStart,
		WorkingHoursEnd:     s.WorkingHoursEnd,
		WorkingDays:         s.WorkingDaySet(),
		OutOfHoursMessage:   s.OutOfHoursMessage,
	}
}
