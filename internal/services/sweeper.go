package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// Sweeper closes conversations that have been idle past the configured
// window, releasing the one-open-conversation-per-customer slot so the next
// message starts a fresh thread with a welcome.
type Sweeper struct {
	convRepo  repositories.ConversationRepo
	cron      *cron.Cron
	schedule  string
	idleAfter time.Duration
}

func NewSweeper(convRepo repositories.ConversationRepo, schedule string, idleAfter time.Duration) *Sweeper {
	return &Sweeper{
		convRepo:  convRepo,
		cron:      cron.New(cron.WithSeconds()),
		schedule:  schedule,
		idleAfter: idleAfter,
	}
}

func (s *Sweeper) Start() error {
	log := logutil.Component("sweeper")

	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return err
	}
	s.cron.Start()

	log.Info().
		Str("schedule", s.schedule).
		Dur("idle_after", s.idleAfter).
		Msg("idle conversation sweeper started")
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run() {
	log := logutil.Component("sweeper")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.idleAfter)
	closed, err := s.convRepo.CloseIdle(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("idle sweep failed")
		return
	}
	if closed > 0 {
		log.Info().Int64("closed", closed).Time("cutoff", cutoff).Msg("closed idle conversations")
	}
}
