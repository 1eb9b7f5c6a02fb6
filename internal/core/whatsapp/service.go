package whatsapp

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tajirly/agent-core/internal/models"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// Service is the per-connection provider registry used by the dispatcher and
// the polling workers. Providers are built lazily from connection credentials
// and cached; Invalidate drops a cached provider when a merchant unlinks.
type Service struct {
	storeURL string

	mu        sync.RWMutex
	providers map[uuid.UUID]Provider
}

func NewService(storeURL string) *Service {
	return &Service{
		storeURL:  storeURL,
		providers: make(map[uuid.UUID]Provider),
	}
}

// ProviderFor returns the cached provider for the connection, building and
// connecting it on first use. Connect is provider I/O and can stall for the
// full client timeout, so it runs outside the registry lock: one cold
// connection must not block lookups for every other merchant. Two concurrent
// first lookups may both connect; the loser's provider is discarded.
func (s *Service) ProviderFor(ctx context.Context, conn *models.WhatsAppConnection) (Provider, error) {
	s.mu.RLock()
	p, ok := s.providers[conn.ID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := NewFromConnection(conn, s.storeURL)
	if err != nil {
		return nil, fmt.Errorf("build provider for connection %s: %w", conn.ID, err)
	}
	if err := p.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect provider for connection %s: %w", conn.ID, err)
	}

	s.mu.Lock()
	if existing, ok := s.providers[conn.ID]; ok {
		s.mu.Unlock()
		p.Disconnect()
		return existing, nil
	}
	s.providers[conn.ID] = p
	s.mu.Unlock()

	logger := logutil.Component("whatsapp")
	logger.Info().
		Str("connection_id", conn.ID.String()).
		Str("provider", p.GetProviderName()).
		Msg("whatsapp provider ready")

	return p, nil
}

// SendText sends through the connection's provider.
func (s *Service) SendText(ctx context.Context, conn *models.WhatsAppConnection, phoneNumber, text string) (string, error) {
	p, err := s.ProviderFor(ctx, conn)
	if err != nil {
		return "", err
	}
	return p.SendText(ctx, phoneNumber, text)
}

// Invalidate drops the cached provider for a connection, disconnecting it.
func (s *Service) Invalidate(connectionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.providers[connectionID]; ok {
		p.Disconnect()
		delete(s.providers, connectionID)
	}
}

// Shutdown disconnects every cached provider.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.providers {
		p.Disconnect()
		delete(s.providers, id)
	}
}
