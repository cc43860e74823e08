package agentd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/darkwings/voicecart/pkg/catalog"
	"github.com/darkwings/voicecart/pkg/live/protocol"
)

// Decision is the agent's reaction to one user utterance.
type Decision struct {
	Reply       string
	Cart        protocol.RawCart
	CartChanged bool
	PlaceOrder  bool
}

// Brain turns an utterance into an order decision given the menu and the
// current cart.
type Brain interface {
	Decide(ctx context.Context, menu []catalog.Product, cart protocol.RawCart, utterance string) (Decision, error)
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// RuleBrain is a deterministic keyword matcher. It backs the demo when no
// model key is configured and serves as the fallback when the model fails.
type RuleBrain struct{}

func (RuleBrain) Decide(ctx context.Context, menu []catalog.Product, cart protocol.RawCart, utterance string) (Decision, error) {
	text := strings.ToLower(utterance)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	if containsAny(words, "checkout", "order", "pay", "done", "finish") {
		if len(cart) == 0 {
			return Decision{Reply: "Your cart is empty, add something first."}, nil
		}
		return Decision{Reply: "Placing your order now.", PlaceOrder: true}, nil
	}
	if containsAny(words, "clear", "empty", "reset") {
		return Decision{Reply: "Cleared your cart.", Cart: protocol.RawCart{}, CartChanged: true}, nil
	}

	removing := containsAny(words, "remove", "drop", "without", "delete")
	quantity := 1
	for _, w := range words {
		if n, ok := numberWords[w]; ok {
			quantity = n
			break
		}
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			quantity = n
			break
		}
	}

	product, ok := matchProduct(menu, text)
	if !ok {
		return Decision{Reply: "Sorry, I did not find that on the menu."}, nil
	}

	next := applyCartChange(cart, product.SKU, quantity, removing)
	verb := "Added"
	if removing {
		verb = "Removed"
	}
	return Decision{
		Reply:       fmt.Sprintf("%s %d x %s.", verb, quantity, product.Title),
		Cart:        next,
		CartChanged: true,
	}, nil
}

func containsAny(words []string, targets ...string) bool {
	for _, w := range words {
		for _, t := range targets {
			if w == t {
				return true
			}
		}
	}
	return false
}

func matchProduct(menu []catalog.Product, text string) (catalog.Product, bool) {
	for _, p := range menu {
		if strings.Contains(text, strings.ToLower(p.Title)) {
			return p, true
		}
	}
	// Try single title words for partial matches like "the diavola one".
	for _, p := range menu {
		for _, word := range strings.Fields(strings.ToLower(p.Title)) {
			if len(word) >= 4 && strings.Contains(text, word) {
				return p, true
			}
		}
	}
	return catalog.Product{}, false
}

func applyCartChange(cart protocol.RawCart, sku string, quantity int, removing bool) protocol.RawCart {
	next := make(protocol.RawCart, 0, len(cart)+1)
	found := false
	for _, entry := range cart {
		if entry.Code != sku {
			next = append(next, entry)
			continue
		}
		found = true
		if removing {
			entry.Amount -= quantity
		} else {
			entry.Amount += quantity
		}
		if entry.Amount > 0 {
			next = append(next, entry)
		}
	}
	if !found && !removing {
		next = append(next, protocol.CartEntry{Code: sku, Amount: quantity})
	}
	return next
}

// GeminiBrain asks a Gemini model to interpret the utterance and falls back
// to the rule matcher when the model call or its output fails.
type GeminiBrain struct {
	client   *genai.Client
	model    string
	fallback Brain
	logger   *slog.Logger
}

// NewGeminiBrain creates a model-backed brain.
func NewGeminiBrain(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiBrain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiBrain{client: client, model: model, fallback: RuleBrain{}, logger: logger}, nil
}

type modelDecision struct {
	Reply string           `json:"reply"`
	Cart  protocol.RawCart `json:"cart"`
	Order bool             `json:"order"`
}

func (b *GeminiBrain) Decide(ctx context.Context, menu []catalog.Product, cart protocol.RawCart, utterance string) (Decision, error) {
	prompt, err := buildPrompt(menu, cart, utterance)
	if err != nil {
		return b.fallback.Decide(ctx, menu, cart, utterance)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		b.logger.Warn("model call failed, using rule matcher", "error", err)
		return b.fallback.Decide(ctx, menu, cart, utterance)
	}

	var md modelDecision
	if err := json.Unmarshal([]byte(resp.Text()), &md); err != nil {
		b.logger.Warn("undecodable model decision, using rule matcher", "error", err)
		return b.fallback.Decide(ctx, menu, cart, utterance)
	}

	valid := make(map[string]bool, len(menu))
	for _, p := range menu {
		valid[p.SKU] = true
	}
	for _, entry := range md.Cart {
		if !valid[entry.Code] || entry.Amount <= 0 {
			b.logger.Warn("model produced an invalid cart, using rule matcher", "sku", entry.Code)
			return b.fallback.Decide(ctx, menu, cart, utterance)
		}
	}

	return Decision{
		Reply:       md.Reply,
		Cart:        md.Cart,
		CartChanged: !md.Order,
		PlaceOrder:  md.Order,
	}, nil
}

func buildPrompt(menu []catalog.Product, cart protocol.RawCart, utterance string) (string, error) {
	type menuLine struct {
		SKU   string  `json:"sku"`
		Title string  `json:"title"`
		Price float64 `json:"price"`
	}
	lines := make([]menuLine, 0, len(menu))
	for _, p := range menu {
		lines = append(lines, menuLine{SKU: p.SKU, Title: p.Title, Price: p.Price})
	}
	menuJSON, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	cartJSON, err := json.Marshal(cart)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You take voice food orders. Menu: %s
Current cart (sku and amount): %s
Customer said: %q
Respond with JSON only: {"reply": string, "cart": [{"code": sku, "amount": int}], "order": bool}.
"cart" is the full cart after this utterance. Set "order" true only when the customer confirms checkout; keep "cart" as-is in that case.`,
		menuJSON, cartJSON, utterance), nil
}
