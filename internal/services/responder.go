package services

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/tajirly/agent-core/internal/core/llm"
	"github.com/tajirly/agent-core/internal/models"
	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

const (
	historyFetch     = 10 // rows pulled from the store
	historyWindow    = 5  // turns actually sent to the model
	maxProductHits   = 5
	maxCatalogueRows = 200
)

// apologies by settings language; the fallback of the fallback is English.
var apologies = map[string]string{
	"ar": "عذرًا، لا أستطيع الرد الآن. سنعاود التواصل معك قريبًا.",
	"id": "Maaf, saya sedang mengalami gangguan. Silakan coba lagi nanti.",
	"en": "Sorry, I can't answer right now. We'll get back to you shortly.",
}

// Responder builds a grounded prompt and generates the agent's reply.
// Generate never fails: provider errors and empty completions degrade to a
// fixed apology so the ingestion path cannot crash on LLM trouble.
type Responder struct {
	convRepo    repositories.ConversationRepo
	productRepo repositories.ProductRepo
	llm         *llm.Service
}

func NewResponder(convRepo repositories.ConversationRepo, productRepo repositories.ProductRepo, llmService *llm.Service) *Responder {
	return &Responder{
		convRepo:    convRepo,
		productRepo: productRepo,
		llm:         llmService,
	}
}

func (r *Responder) Generate(ctx context.Context, merchant *models.Merchant, settings *models.BotSettings, conversationID uuid.UUID, customerText string) string {
	log := logutil.Component("responder").With().
		Str("merchant_id", merchant.ID.String()).
		Str("conversation_id", conversationID.String()).
		Logger()

	turns := r.transcriptWindow(ctx, conversationID, customerText)

	products, err := r.productRepo.ListActive(ctx, merchant.ID, maxCatalogueRows)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load catalogue, prompting without products")
		products = nil
	}
	matched := searchProducts(products, customerText)

	prompt := llm.BuildSystemPrompt(&llm.PromptContext{
		BusinessName:      merchant.Name,
		Tone:              settings.Tone,
		Language:          settings.Language,
		MaxResponseLength: settings.MaxResponseLength,
		Products:          matched,
	})

	reply, err := r.llm.GenerateReply(ctx, prompt, turns)
	if err != nil || strings.TrimSpace(reply) == "" {
		log.Error().Err(err).Str("provider", r.llm.GetProviderName()).Msg("generation failed, sending apology")
		return apology(settings.Language)
	}
	return reply
}

// transcriptWindow maps recent rows to role-tagged turns and keeps only the
// newest few to bound token cost. The current customer message is always the
// last turn.
func (r *Responder) transcriptWindow(ctx context.Context, conversationID uuid.UUID, customerText string) []llm.Turn {
	history, err := r.convRepo.RecentMessages(ctx, conversationID, historyFetch)
	if err != nil {
		logger := logutil.Component("responder")
		logger.Warn().Err(err).Msg("failed to load history, prompting without it")
		history = nil
	}

	turns := make([]llm.Turn, 0, historyWindow+1)
	for _, m := range history {
		role := llm.RoleCustomer
		if m.Direction == models.DirectionOutgoing {
			role = llm.RoleAgent
		}
		turns = append(turns, llm.Turn{Role: role, Content: m.Content})
	}
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}

	// The just-persisted inbound message may or may not be in the window
	// depending on timing; make sure it closes the transcript exactly once.
	if len(turns) == 0 || turns[len(turns)-1].Content != customerText || turns[len(turns)-1].Role != llm.RoleCustomer {
		turns = append(turns, llm.Turn{Role: llm.RoleCustomer, Content: customerText})
	}
	return turns
}

// searchProducts runs the bounded lexical match: lowercase both sides, split
// the query into terms, keep products where any term is a substring of
// name+description+category. Results are capped. Terms are stripped of
// punctuation so "سماعات؟" still matches "سماعات".
func searchProducts(products []models.Product, query string) []llm.ProductSummary {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	var hits []llm.ProductSummary
	for _, p := range products {
		haystack := strings.ToLower(p.Name + " " + p.Description + " " + p.Category)
		for _, term := range terms {
			term = strings.TrimFunc(term, func(r rune) bool {
				return unicode.IsPunct(r) || unicode.IsSymbol(r)
			})
			if term == "" {
				continue
			}
			if strings.Contains(haystack, term) {
				hits = append(hits, llm.ProductSummary{
					Name:        p.Name,
					Description: p.Description,
					Price:       p.Price,
					Stock:       p.Stock,
				})
				break
			}
		}
		if len(hits) >= maxProductHits {
			break
		}
	}
	return hits
}

func apology(language string) string {
	if msg, ok := apologies[strings.ToLower(language)]; ok {
		return msg
	}
	return apologies["en"]
}
