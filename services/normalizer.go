package services

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ligatures = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"ﬆ", "st",
	)
	// "ab-\nweichung" -> "abweichung"
	hyphenBreakRE = regexp.MustCompile(`([\p{L}\p{N}])-\r?\n([\p{Ll}])`)
	whitespaceRE  = regexp.MustCompile(`[\s\x{00A0}\x{2009}\x{202F}]+`)
)

// TextNormalizer bereitet Texte aus den Artikel-XMLs für Speicherung und Zählung auf.
type TextNormalizer struct {
	logger *zap.Logger
}

func NewTextNormalizer(logger *zap.Logger) *TextNormalizer {
	return &TextNormalizer{logger: logger}
}

// Normalize führt NFC-Normalisierung durch, ersetzt Ligaturen, repariert Silbentrennung
// am Zeilenende und fasst Whitespace zu einzelnen Leerzeichen zusammen.
func (tn *TextNormalizer) Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = ligatures.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		tn.logger.Debug("NFC-Normalisierung fehlgeschlagen, nutze Originaltext", zap.Error(err))
		normalized = s
	}
	normalized = hyphenBreakRE.ReplaceAllString(normalized, "$1$2")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(normalized, " "))
}

// NormalizeRecordText normalisiert Titel, Abstract, Journal und Volltext eines Records.
func (tn *TextNormalizer) NormalizeRecordText(title, abstract, journal, fullText string) (string, string, string, string) {
	return tn.Normalize(title), tn.Normalize(abstract), tn.Normalize(journal), tn.Normalize(fullText)
}

// WordCount zählt die Wörter des normalisierten Texts.
func (tn *TextNormalizer) WordCount(s string) int {
	return len(strings.Fields(tn.Normalize(s)))
}
