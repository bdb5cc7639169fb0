package command

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Command is a parsed chat message.
type Command struct {
	Kind Kind `json:"kind"`
	// Raw is the input text as received.
	Raw string `json:"raw"`
	// Keyword is the folded phrase that selected Kind; empty for meal
	// descriptions.
	Keyword string `json:"keyword,omitempty"`
	// Argument is the folded text following the keyword, or the whole
	// folded text for meal descriptions.
	Argument string `json:"argument,omitempty"`
}

type rule struct {
	kind   Kind
	phrase []string
}

// keywords are written in their natural spelling and folded on init.
var keywords = []struct {
	kind    Kind
	phrases []string
}{
	{KindDiet, []string{"dieta", "diet"}},
	{KindWeightLoss, []string{"emagrecer", "perder peso"}},
	{KindMuscleGain, []string{"ganhar massa", "massa muscular"}},
	{KindMenu, []string{"cardápio", "menu"}},
	{KindRecipe, []string{"receita", "receitas"}},
	{KindAnalyze, []string{"analisar", "analise", "análise"}},
	{KindCalories, []string{"calorias", "caloria"}},
	{KindNutrients, []string{"nutrientes"}},
	{KindHealth, []string{"saudável"}},
	{KindProgress, []string{"progresso", "evolução", "resultados", "estatísticas"}},
	{KindHistory, []string{"histórico"}},
	{KindHelp, []string{"ajuda", "help", "comandos", "tutorial"}},
	{KindSettings, []string{"configurar", "preferências"}},
	{KindGoals, []string{"metas", "objetivos"}},
	{KindSubscription, []string{"assinatura", "plano", "cancelar assinatura"}},
	{KindUpgrade, []string{"upgrade", "premium"}},
	{KindReferral, []string{"convidar", "indicar", "referência", "amigo", "código de indicação"}},
	{KindReminder, []string{"lembrete", "notificação", "alerta"}},
}

var rules = buildRules()

func buildRules() []rule {
	var out []rule
	for _, k := range keywords {
		for _, p := range k.phrases {
			out = append(out, rule{kind: k.kind, phrase: words(fold(p))})
		}
	}
	// Longer phrases first; table order otherwise.
	slices.SortStableFunc(out, func(a, b rule) int { return len(b.phrase) - len(a.phrase) })
	return out
}

// Parse classifies text. It never fails: unmatched text is a meal
// description.
func Parse(text string) Command {
	tokens := words(fold(text))
	for _, r := range rules {
		if i := indexPhrase(tokens, r.phrase); i >= 0 {
			return Command{
				Kind:     r.kind,
				Raw:      text,
				Keyword:  strings.Join(r.phrase, " "),
				Argument: strings.Join(tokens[i+len(r.phrase):], " "),
			}
		}
	}
	return Command{Kind: KindMealDescription, Raw: text, Argument: strings.Join(tokens, " ")}
}

func indexPhrase(tokens, phrase []string) int {
	if len(phrase) == 0 {
		return -1
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		if slices.Equal(tokens[i:i+len(phrase)], phrase) {
			return i
		}
	}
	return -1
}

// fold lower-cases s and strips diacritics. Chained transformers carry
// state, so each call builds its own.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
