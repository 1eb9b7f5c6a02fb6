package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tajirly/agent-core/internal/core/whatsapp"
	"github.com/tajirly/agent-core/internal/models"
	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

const maxItemsPerTick = 10

// PollerConfig bounds the pull loop and its retry behaviour.
type PollerConfig struct {
	Interval   time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// PollManager runs one lightweight polling worker per webhook-incapable
// connection. Each worker pulls the provider's unread queue on its own timer
// and acknowledges items only after local persistence, so a crash mid-tick
// redelivers instead of losing messages.
type PollManager struct {
	connRepo repositories.ConnectionRepo
	wa       *whatsapp.Service
	ingestor *Ingestor
	cfg      PollerConfig
	log      zerolog.Logger

	mu      sync.Mutex
	workers map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewPollManager(connRepo repositories.ConnectionRepo, wa *whatsapp.Service, ingestor *Ingestor, cfg PollerConfig) *PollManager {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &PollManager{
		connRepo: connRepo,
		wa:       wa,
		ingestor: ingestor,
		cfg:      cfg,
		log:      logutil.Component("poller"),
		workers:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start launches workers for the current polling connections and keeps the
// set in sync once a minute so newly linked connections start polling without
// a restart.
func (m *PollManager) Start(ctx context.Context) {
	m.sync(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sync(ctx)
			}
		}
	}()
}

// Wait blocks until all workers have stopped.
func (m *PollManager) Wait() {
	m.wg.Wait()
}

func (m *PollManager) sync(ctx context.Context) {
	conns, err := m.connRepo.ListPolling(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to list polling connections")
		return
	}

	active := make(map[uuid.UUID]bool, len(conns))
	for i := range conns {
		conn := conns[i]
		active[conn.ID] = true

		m.mu.Lock()
		_, running := m.workers[conn.ID]
		if !running {
			workerCtx, cancel := context.WithCancel(ctx)
			m.workers[conn.ID] = cancel
			m.wg.Add(1)
			go m.runWorker(workerCtx, conn)
		}
		m.mu.Unlock()
	}

	// Stop workers for connections that were unlinked or switched mode.
	m.mu.Lock()
	for id, cancel := range m.workers {
		if !active[id] {
			cancel()
			delete(m.workers, id)
		}
	}
	m.mu.Unlock()
}

func (m *PollManager) runWorker(ctx context.Context, conn models.WhatsAppConnection) {
	defer m.wg.Done()

	log := m.log.With().
		Str("connection_id", conn.ID.String()).
		Str("phone", conn.PhoneNumber).
		Logger()

	provider, err := m.wa.ProviderFor(ctx, &conn)
	if err != nil {
		log.Error().Err(err).Msg("failed to build polling provider")
		return
	}
	puller, ok := provider.(whatsapp.Puller)
	if !ok {
		log.Error().Str("provider", provider.GetProviderName()).Msg("provider does not support polling")
		return
	}

	log.Info().Dur("interval", m.cfg.Interval).Msg("polling worker started")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("polling worker stopped")
			return
		case <-ticker.C:
			m.drainQueue(ctx, &conn, puller, log)
		}
	}
}

// drainQueue pulls unread items until the queue is empty or the per-tick cap
// is hit, so one chatty customer cannot starve other connections' timers.
func (m *PollManager) drainQueue(ctx context.Context, conn *models.WhatsAppConnection, puller whatsapp.Puller, log zerolog.Logger) {
	for n := 0; n < maxItemsPerTick; n++ {
		evt, err := puller.FetchUnread(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to poll unread queue")
			return
		}
		if evt == nil {
			return
		}

		if !m.handleEvent(ctx, conn, evt, log) {
			// Leave the item unacked; the provider redelivers next tick.
			return
		}

		if evt.ReceiptID != "" {
			if err := puller.Ack(ctx, evt.ReceiptID); err != nil {
				log.Warn().Err(err).Str("receipt", evt.ReceiptID).Msg("failed to ack provider queue item")
				return
			}
		}
	}
}

// handleEvent ingests one pulled event with bounded retries. Returns true
// when the item may be acknowledged provider-side: persisted, duplicate, or
// permanently unprocessable.
func (m *PollManager) handleEvent(ctx context.Context, conn *models.WhatsAppConnection, evt *whatsapp.Event, log zerolog.Logger) bool {
	msg := InboundMessage{
		ProviderMessageID: evt.ProviderMessageID,
		FromPhone:         evt.FromPhone,
		ToPhone:           conn.PhoneNumber,
		Text:              evt.Text,
		Type:              evt.Type,
		Timestamp:         evt.Timestamp,
		Raw:               evt.Raw,
	}

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(m.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		_, err := m.ingestor.Ingest(ctx, msg, ChannelPolling)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrUnknownConnection) {
			// No tenant to own it; retrying cannot fix that.
			return true
		}
		lastErr = err
	}

	log.Error().Err(lastErr).
		Str("provider_message_id", evt.ProviderMessageID).
		Msg("giving up on polled message this tick")
	return false
}
