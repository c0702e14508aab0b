package services

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Entities sind die kategorisierten Begriffe eines Papers. Sie werden nicht gespeichert.
type Entities struct {
	Organizations   []string `json:"organizations"`
	ScientificTerms []string `json:"scientific_terms"`
	Chemicals       []string `json:"chemicals"`
	Diseases        []string `json:"diseases"`
	Methods         []string `json:"methods"`
}

var (
	scientificPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)[A-Z]+\d+`), // Gen-artige Tokens, z.B. BRCA1, p53
		regexp.MustCompile(`(?i)\b[A-Z][A-Za-z]+ (?:syndrome|disease|disorder|cancer|therapy|treatment)\b`),
		regexp.MustCompile(`(?i)\b(?:in vitro|in vivo|ex vivo)\b`),
		regexp.MustCompile(`(?i)\b(?:p-value|confidence interval|statistical significance)\b`),
		regexp.MustCompile(`(?i)\b(?:DNA|RNA|mRNA|tRNA|miRNA|protein|enzyme|receptor)\b`),
		regexp.MustCompile(`(?i)\b(?:pathways?|signaling|mechanism)\b`),
	}
	methodPattern = regexp.MustCompile(`\b\w+(?:sis|ing|tion|graphy|scopy|metry)\b`)
)

// EntityExtractor kombiniert Regex-Muster mit einem optionalen NER-Dienst.
type EntityExtractor struct {
	Logger *zap.Logger
	NER    EntityRecognizer
}

// NewEntityExtractor erstellt einen Extraktor. ner darf nil sein.
func NewEntityExtractor(ner EntityRecognizer, logger *zap.Logger) *EntityExtractor {
	return &EntityExtractor{Logger: logger, NER: ner}
}

// Extract liefert die Begriffe aus Titel und Abstract, je Kategorie dedupliziert und sortiert.
// Fällt der NER-Dienst aus, wird nur das Regex-Ergebnis geliefert.
func (e *EntityExtractor) Extract(ctx context.Context, title, abstract string) Entities {
	text := strings.TrimSpace(title + " " + abstract)
	sets := map[string]map[string]bool{
		"organizations":    {},
		"scientific_terms": {},
		"chemicals":        {},
		"diseases":         {},
		"methods":          {},
	}
	if text == "" {
		return collect(sets)
	}

	for _, re := range scientificPatterns {
		for _, m := range re.FindAllString(text, -1) {
			sets["scientific_terms"][m] = true
		}
	}
	for _, m := range methodPattern.FindAllString(text, -1) {
		sets["methods"][m] = true
	}

	if e.NER != nil {
		entities, err := e.NER.Recognize(ctx, text)
		if err != nil {
			e.Logger.Warn("NER fehlgeschlagen, nutze nur Regex-Extraktion", zap.Error(err))
		}
		for _, ent := range entities {
			switch ent.Label {
			case LabelOrganization:
				sets["organizations"][ent.Text] = true
			case LabelChemical:
				sets["chemicals"][ent.Text] = true
				sets["scientific_terms"][ent.Text] = true
			case LabelDisease:
				sets["diseases"][ent.Text] = true
				sets["scientific_terms"][ent.Text] = true
			case LabelGene, LabelProtein:
				sets["scientific_terms"][ent.Text] = true
			}
		}
	}
	return collect(sets)
}

func collect(sets map[string]map[string]bool) Entities {
	return Entities{
		Organizations:   sortedTerms(sets["organizations"]),
		ScientificTerms: sortedTerms(sets["scientific_terms"]),
		Chemicals:       sortedTerms(sets["chemicals"]),
		Diseases:        sortedTerms(sets["diseases"]),
		Methods:         sortedTerms(sets["methods"]),
	}
}

// sortedTerms entfernt leere Einträge; das Ergebnis ist nie nil.
func sortedTerms(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for term := range set {
		if term = strings.TrimSpace(term); term != "" {
			out = append(out, term)
		}
	}
	sort.Strings(out)
	// Trimmen kann Duplikate erzeugen
	return dedupSorted(out)
}

func dedupSorted(s []string) []string {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
