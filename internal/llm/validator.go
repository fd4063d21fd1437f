package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/opportunity"
)

var log = logging.WithComponent("llm")

// ValidationResult is the C13 validation gate's outcome: whether a
// vector-similarity-matched (company, opportunity) pair should actually
// be surfaced, plus the reasoning text persisted alongside the match
// regardless of the verdict (§4 Supplemented Features).
type ValidationResult struct {
	Approved  bool
	Reasoning string
}

// Validator asks an LLM whether a company can genuinely fulfill an
// opportunity, with a conservative failure mode: any error, timeout, or
// ambiguous non-JSON response yields Approved=false rather than surfacing
// a possibly-wrong match.
type Validator struct {
	provider Provider
	timeout  time.Duration
}

// NewValidator wraps a provider with the validation gate's timeout policy.
func NewValidator(provider Provider) *Validator {
	return &Validator{provider: provider, timeout: 75 * time.Second}
}

const validatorSystemPrompt = `Você avalia se uma empresa tem real capacidade de atender a uma licitação pública.
Responda estritamente em JSON no formato {"approved": true|false, "reasoning": "..."}.
Seja rigoroso: aprove apenas quando o objeto da licitação estiver claramente dentro do ramo de atuação da empresa.`

// Validate runs one company/opportunity pair through the LLM gate.
func (v *Validator) Validate(ctx context.Context, company opportunity.Company, opp opportunity.Opportunity, items []opportunity.Item) ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	userPrompt := buildValidationPrompt(company, opp, items)

	raw, err := v.provider.Complete(ctx, validatorSystemPrompt, userPrompt)
	if err != nil {
		log.WithError(err).WithField("provider", v.provider.Name()).Warn("llm validation call failed, defaulting to not approved")
		return ValidationResult{Approved: false, Reasoning: "validation call failed: " + err.Error()}
	}

	if result, ok := parseStrictJSON(raw); ok {
		return result
	}
	return heuristicFallback(raw)
}

func buildValidationPrompt(company opportunity.Company, opp opportunity.Opportunity, items []opportunity.Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Empresa: %s\nDescrição da empresa: %s\nProdutos/serviços: %s\n\n",
		company.LegalName, company.Description, strings.Join(company.Products, ", "))
	fmt.Fprintf(&sb, "Licitação: %s\nObjeto: %s\n", opp.Title, opp.Description)
	if len(items) > 0 {
		sb.WriteString("Itens:\n")
		for _, it := range items {
			fmt.Fprintf(&sb, "- %s\n", it.Description)
		}
	}
	return sb.String()
}

type validatorJSON struct {
	Approved  bool   `json:"approved"`
	Reasoning string `json:"reasoning"`
}

var jsonBlockPattern = regexp.MustCompile(`(?s)\{.*\}`)

// notApprovedPattern catches negated approvals such as "não aprovada" or
// "não foi aprovada".
var notApprovedPattern = regexp.MustCompile(`não\s+(\S+\s+)?aprovad`)

func parseStrictJSON(raw string) (ValidationResult, bool) {
	candidate := strings.TrimSpace(raw)
	if m := jsonBlockPattern.FindString(candidate); m != "" {
		candidate = m
	}
	var parsed validatorJSON
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return ValidationResult{}, false
	}
	return ValidationResult{Approved: parsed.Approved, Reasoning: parsed.Reasoning}, true
}

// heuristicFallback degrades gracefully when the model doesn't return
// valid JSON: it looks for an unambiguous yes/no signal in plain text and
// otherwise refuses, never approving on an ambiguous response.
func heuristicFallback(raw string) ValidationResult {
	lower := strings.ToLower(raw)
	approved := strings.Contains(lower, "aprovad") || strings.Contains(lower, "\"approved\": true") || strings.Contains(lower, "sim,")
	rejected := notApprovedPattern.MatchString(lower) || strings.Contains(lower, "reject") || strings.Contains(lower, "não,")
	if approved && !rejected {
		return ValidationResult{Approved: true, Reasoning: strings.TrimSpace(raw)}
	}
	return ValidationResult{Approved: false, Reasoning: strings.TrimSpace(raw)}
}
