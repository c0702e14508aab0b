package pubmed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"citation-finder/apperrors"
	"citation-finder/models"
	"citation-finder/providers"

	"go.uber.org/zap"
)

// Platzhalter, wenn das Dokument keine ID bzw. keinen Titel enthält.
const (
	UnknownID = "Unknown"
	NoTitle   = "No title"
)

// node ist ein minimaler Elementbaum. Textknoten haben einen leeren Namen.
type node struct {
	name     string
	attrs    map[string]string
	text     string
	children []*node
}

// Parser wandelt ein JATS-Artikeldokument (PMC EFetch oder Europe PMC fullTextXML) in einen Record um.
// Die Struktur der Dokumente ist uneinheitlich, daher wird über einen generischen Baum gesucht
// statt über feste Struct-Tags.
type Parser struct {
	Logger *zap.Logger
}

// NewParser erstellt einen neuen Parser.
func NewParser(logger *zap.Logger) *Parser {
	return &Parser{Logger: logger}
}

// Parse liefert den normalisierten Record. Ungültiges XML ergibt einen ParseError,
// ein Dokument ohne <article> einen ValidationError.
func (p *Parser) Parse(payload []byte) (*models.Record, error) {
	doc, err := parseTree(payload)
	if err != nil {
		return nil, err
	}
	article := doc.find("article", nil)
	if article == nil {
		return nil, apperrors.Validation("article", "document contains no article element")
	}

	rec := &models.Record{
		ExternalID: p.externalID(doc),
		DOI:        doc.findText("article-id", attrIs("pub-id-type", "doi")),
		Title:      article.findText("article-title", nil),
		Abstract:   article.findText("abstract", nil),
		Journal:    article.findText("journal-title", nil),
		Authors:    authors(article),
		Citations:  citations(article),
		FullText:   article.findText("body", nil),
	}
	if rec.Title == "" {
		rec.Title = NoTitle
	}

	date, err := publicationDate(article.find("pub-date", nil))
	if err != nil {
		p.Logger.Warn("Fehler beim Parsen des Publikationsdatums", zap.String("pmid", rec.ExternalID), zap.Error(err))
	}
	rec.PublicationDate = date
	return rec, nil
}

// externalID bevorzugt die PMC-ID; Europe PMC kennzeichnet sie als "pmcid".
func (p *Parser) externalID(doc *node) string {
	for _, idType := range []string{"pmc", "pmcid"} {
		if id := providers.NormalizeID(doc.findText("article-id", attrIs("pub-id-type", idType))); id != "" {
			return id
		}
	}
	return UnknownID
}

// authors liefert "Vorname Nachname" je <contrib contrib-type="author">, ohne Duplikate.
func authors(article *node) []string {
	var names []string
	seen := make(map[string]bool)
	for _, contrib := range article.findAll("contrib", attrIs("contrib-type", "author")) {
		surname := contrib.findText("surname", nil)
		given := contrib.findText("given-names", nil)
		name := strings.TrimSpace(given + " " + surname)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// citations sammelt die PMIDs aus der Referenzliste in Dokumentreihenfolge.
func citations(article *node) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, ref := range article.findAll("ref", nil) {
		id := ref.findText("pub-id", attrIs("pub-id-type", "pmid"))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// publicationDate liest year/month/day einzeln. Fehlen alle drei, ist das Datum nil;
// fehlende Teile werden sonst mit 1900/1/1 aufgefüllt.
func publicationDate(pubDate *node) (*time.Time, error) {
	if pubDate == nil {
		return nil, nil
	}
	y, m, d := pubDate.child("year"), pubDate.child("month"), pubDate.child("day")
	if y == nil && m == nil && d == nil {
		return nil, nil
	}

	year, month, day := 1900, 1, 1
	var err error
	if y != nil {
		if year, err = strconv.Atoi(y.textContent()); err != nil {
			return nil, fmt.Errorf("year %q: %w", y.textContent(), err)
		}
	}
	if m != nil {
		if month, err = parseMonth(m.textContent()); err != nil {
			return nil, err
		}
	}
	if d != nil {
		if day, err = strconv.Atoi(d.textContent()); err != nil {
			return nil, fmt.Errorf("day %q: %w", d.textContent(), err)
		}
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalisiert Überläufe (z.B. 31.02.), die wir als ungültig werten
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return nil, fmt.Errorf("invalid calendar date %04d-%02d-%02d", year, month, day)
	}
	return &t, nil
}

// parseMonth akzeptiert numerische Monate und Monatsnamen ("Jan", "January").
func parseMonth(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	for _, layout := range []string{"Jan", "January"} {
		if t, err := time.Parse(layout, s); err == nil {
			return int(t.Month()), nil
		}
	}
	return 0, fmt.Errorf("month %q is not a month", s)
}

// parseTree baut den Elementbaum. HTML-Entities wie &nbsp; werden toleriert.
func parseTree(payload []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	dec.Entity = xml.HTMLEntity

	root := &node{name: "#document"}
	stack := []*node{root}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &apperrors.ParseError{Msg: "malformed xml", Err: err}
		}
		parent := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(t.Attr) > 0 {
				n.attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.attrs[a.Name.Local] = a.Value
				}
			}
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			parent.children = append(parent.children, &node{text: string(t)})
		}
	}
	if len(root.children) == 0 {
		return nil, &apperrors.ParseError{Msg: "empty document"}
	}
	return root, nil
}

type predicate func(*node) bool

func attrIs(key, value string) predicate {
	return func(n *node) bool { return n.attrs[key] == value }
}

// find liefert den ersten Nachfahren (Dokumentreihenfolge) mit passendem Namen.
func (n *node) find(name string, pred predicate) *node {
	for _, c := range n.children {
		if c.name == name && (pred == nil || pred(c)) {
			return c
		}
		if found := c.find(name, pred); found != nil {
			return found
		}
	}
	return nil
}

func (n *node) findAll(name string, pred predicate) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name && (pred == nil || pred(c)) {
			out = append(out, c)
		}
		out = append(out, c.findAll(name, pred)...)
	}
	return out
}

// child liefert das erste direkte Kindelement mit passendem Namen.
func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// findText liefert den Textinhalt des ersten Treffers oder "".
func (n *node) findText(name string, pred predicate) string {
	if found := n.find(name, pred); found != nil {
		return found.textContent()
	}
	return ""
}

// textContent verbindet alle Textstücke unterhalb von n mit Leerzeichen.
func (n *node) textContent() string {
	var parts []string
	n.collectText(&parts)
	return strings.Join(parts, " ")
}

func (n *node) collectText(parts *[]string) {
	if n.name == "" {
		if s := strings.TrimSpace(n.text); s != "" {
			*parts = append(*parts, s)
		}
		return
	}
	for _, c := range n.children {
		c.collectText(parts)
	}
}
