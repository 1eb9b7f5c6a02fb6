package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/swagger"

	"github.com/tajirly/agent-core/internal/core/llm"
	"github.com/tajirly/agent-core/internal/core/whatsapp"
	"github.com/tajirly/agent-core/internal/gateway"
	"github.com/tajirly/agent-core/internal/handlers"
	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/services"
	"github.com/tajirly/agent-core/internal/shared/config"
	"github.com/tajirly/agent-core/internal/shared/database"
	"github.com/tajirly/agent-core/internal/shared/logutil"

	_ "github.com/tajirly/agent-core/docs"
)

// @title Merchant Auto-Reply API
// @version 1.0
// @description Multi-tenant WhatsApp auto-reply core: ingestion, conversations, eligibility, generation, delivery
// @license.name MIT
// @host localhost:8080
// @BasePath /
func main() {
	cfg := config.Load()
	logutil.Init(cfg.Env)
	log := logutil.Component("api")

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	connRepo := repositories.NewConnectionRepo(db)
	convRepo := repositories.NewConversationRepo(db)
	settingsRepo := repositories.NewSettingsRepo(db)
	productRepo := repositories.NewProductRepo(db)
	merchantRepo := repositories.NewMerchantRepo(db)

	llmService, err := llm.NewService()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init LLM provider")
	}
	log.Info().Str("provider", llmService.GetProviderName()).Msg("LLM provider ready")

	waService := whatsapp.NewService(cfg.WhatsAppStoreURL)

	responder := services.NewResponder(convRepo, productRepo, llmService)
	dispatcher := services.NewDispatcher(waService, convRepo)
	pipeline := services.NewPipeline(merchantRepo, settingsRepo, waService, responder, dispatcher)
	ingestor := gateway.NewIngestor(connRepo, convRepo, pipeline)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pollManager := gateway.NewPollManager(connRepo, waService, ingestor, gateway.PollerConfig{
		Interval:   cfg.PollInterval,
		MaxRetries: cfg.PollMaxRetries,
		RetryDelay: cfg.PollRetryDelay,
	})
	pollManager.Start(rootCtx)

	sweeper := services.NewSweeper(convRepo, cfg.SweepSchedule, cfg.IdleCloseAfter)
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start idle sweeper")
	}

	startDeviceListeners(rootCtx, connRepo, waService, ingestor)

	webhookHandler := handlers.NewWebhookHandler(ingestor)
	statusHandler := handlers.NewStatusHandler(pipeline)
	conversationHandler := handlers.NewConversationHandler(convRepo)
	connectionHandler := handlers.NewConnectionHandler(connRepo, cfg.WhatsAppStoreURL)

	app := fiber.New(fiber.Config{
		AppName: "Merchant Auto-Reply API",
	})
	app.Use(cors.New())

	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "agent-core"})
	})

	app.Post("/webhooks/whatsapp", webhookHandler.Receive)
	app.Get("/merchants/:id/auto-reply-status", statusHandler.AutoReplyStatus)
	app.Get("/merchants/:id/conversations", conversationHandler.ListByMerchant)
	app.Get("/conversations/:id/messages", conversationHandler.ListMessages)
	app.Get("/connections/:id/qr", connectionHandler.PairingQR)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("api listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	pollManager.Wait()
	sweeper.Stop()
	waService.Shutdown()
	log.Info().Msg("shutdown complete")
}

// startDeviceListeners attaches in-process event handlers to self-hosted
// device sessions. These connections push over the websocket, so they join
// the webhook ingress path without an HTTP hop.
func startDeviceListeners(ctx context.Context, connRepo repositories.ConnectionRepo, waService *whatsapp.Service, ingestor *gateway.Ingestor) {
	log := logutil.Component("api")

	conns, err := connRepo.ListByProvider(ctx, string(whatsapp.ProviderWhatsmeow))
	if err != nil {
		log.Error().Err(err).Msg("failed to list device-session connections")
		return
	}

	for i := range conns {
		conn := conns[i]
		provider, err := waService.ProviderFor(ctx, &conn)
		if err != nil {
			log.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("failed to start device session")
			continue
		}
		listener, ok := provider.(whatsapp.Listener)
		if !ok {
			continue
		}

		err = listener.StartListening(func(evt *whatsapp.Event) {
			ingestCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			msg := gateway.InboundMessage{
				ProviderMessageID: evt.ProviderMessageID,
				FromPhone:         evt.FromPhone,
				ToPhone:           conn.PhoneNumber,
				Text:              evt.Text,
				Type:              evt.Type,
				Timestamp:         evt.Timestamp,
				Raw:               evt.Raw,
			}
			if _, err := ingestor.Ingest(ingestCtx, msg, gateway.ChannelWebhook); err != nil {
				log.Error().Err(err).
					Str("connection_id", conn.ID.String()).
					Msg("failed to ingest device-session message")
			}
		})
		if err != nil {
			log.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("failed to attach device listener")
			continue
		}

		if km, ok := provider.(*whatsapp.WhatsmeowProvider); ok {
			go km.StartKeepAlive(ctx)
		}
		log.Info().Str("connection_id", conn.ID.String()).Msg("device session listening")
	}
}
