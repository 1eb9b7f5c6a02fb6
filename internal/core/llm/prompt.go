package llm

import (
	"fmt"
	"strings"
)

// ProductSummary is the slice of catalogue data grounded into the prompt.
type ProductSummary struct {
	Name        string
	Description string
	Price       float64
	Stock       int
}

// PromptContext carries everything the system instruction is built from.
type PromptContext struct {
	BusinessName      string
	Tone              string
	Language          string
	MaxResponseLength int
	Products          []ProductSummary
}

// BuildSystemPrompt composes the grounded system instruction: merchant
// persona, tone and language constraints, and the matched product summaries
// or an explicit no-products notice so the model never invents catalogue data.
func BuildSystemPrompt(pc *PromptContext) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are the virtual sales assistant for %s, answering customers on WhatsApp.\n", pc.BusinessName))
	if pc.Tone != "" {
		sb.WriteString(fmt.Sprintf("Communication tone: %s.\n", pc.Tone))
	}
	if pc.Language != "" {
		sb.WriteString(fmt.Sprintf("Always answer in language: %s.\n", pc.Language))
	}
	sb.WriteString("\n")

	if len(pc.Products) > 0 {
		sb.WriteString("=== MATCHING PRODUCTS ===\n")
		for _, p := range pc.Products {
			sb.WriteString(fmt.Sprintf("- %s: price %.2f, stock %d", p.Name, p.Price, p.Stock))
			if p.Description != "" {
				sb.WriteString(". " + p.Description)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No products in the catalogue match the customer's question. Say so honestly instead of guessing.\n\n")
	}

	sb.WriteString("Instructions:\n")
	sb.WriteString("- Answer warmly and professionally\n")
	sb.WriteString("- Use only the information above for product questions\n")
	sb.WriteString("- If you don't know, say so honestly\n")
	sb.WriteString("- Never invent prices, stock or products\n")
	if pc.MaxResponseLength > 0 {
		sb.WriteString(fmt.Sprintf("- Keep the reply under %d characters\n", pc.MaxResponseLength))
	}

	return sb.String()
}
