// Package pdftext extracts text directly from PDF bytes, without an
// external service. It backs the two fallback strategies behind GROBID.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// sectionHeadings are the headings the sectioned strategy recognizes,
// lowercased. Numbered variants ("2. Methods") match too.
var sectionHeadings = []string{
	"abstract", "introduction", "background", "materials and methods",
	"methods", "results", "discussion", "conclusion", "conclusions",
	"references", "acknowledgements", "acknowledgments",
}

// Config bounds the amount of text either strategy keeps.
type Config struct {
	// MaxSectionChars caps each paragraph chunk.
	MaxSectionChars int
}

// Sectioned splits extracted text on recognized headings.
type Sectioned struct {
	cfg    Config
	logger *zap.Logger
}

// Plain keeps the whole text as one unsectioned document.
type Plain struct {
	cfg    Config
	logger *zap.Logger
}

// NewSectioned builds the heading-splitting strategy.
func NewSectioned(cfg Config, logger *zap.Logger) *Sectioned {
	if cfg.MaxSectionChars <= 0 {
		cfg.MaxSectionChars = 4000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sectioned{cfg: cfg, logger: logger}
}

// NewPlain builds the last-resort text strategy.
func NewPlain(cfg Config, logger *zap.Logger) *Plain {
	if cfg.MaxSectionChars <= 0 {
		cfg.MaxSectionChars = 4000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plain{cfg: cfg, logger: logger}
}

// Method identifies the strategy.
func (s *Sectioned) Method() corpus.ExtractionMethod { return corpus.MethodPDFSectioned }

// Method identifies the strategy.
func (p *Plain) Method() corpus.ExtractionMethod { return corpus.MethodPDFPlain }

// Extract reads the PDF line by line and groups paragraphs under the
// recognized headings. It fails when the text carries no such structure,
// handing the document to the plain strategy.
func (s *Sectioned) Extract(_ context.Context, raw corpus.RawDocument, data []byte) (corpus.StructuredDocument, error) {
	lines, err := readLines(data)
	if err != nil {
		return corpus.StructuredDocument{}, err
	}
	sections := splitSections(lines, s.cfg.MaxSectionChars)
	if len(sections) < 2 {
		return corpus.StructuredDocument{}, fmt.Errorf("pdftext: no recognizable section structure in %s", raw.Hash)
	}

	doc := corpus.StructuredDocument{Sections: sections}
	for _, section := range sections {
		if strings.EqualFold(section.Heading, "abstract") && len(section.Paragraphs) > 0 {
			doc.Abstract = strings.Join(section.Paragraphs, "\n")
			break
		}
	}
	s.logger.Debug("sectioned pdf text", zap.String("hash", raw.Hash), zap.Int("sections", len(sections)))
	return doc, nil
}

// Extract keeps the whole text as one section so that nothing readable is
// ever dropped.
func (p *Plain) Extract(_ context.Context, raw corpus.RawDocument, data []byte) (corpus.StructuredDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("pdftext: open pdf: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("pdftext: plain text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("pdftext: read text: %w", err)
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return corpus.StructuredDocument{}, fmt.Errorf("pdftext: %s has no extractable text", raw.Hash)
	}

	doc := corpus.StructuredDocument{
		Sections: []corpus.Section{{Paragraphs: chunk(text, p.cfg.MaxSectionChars)}},
	}
	p.logger.Debug("plain pdf text", zap.String("hash", raw.Hash), zap.Int("chars", len(text)))
	return doc, nil
}

// readLines walks each page row by row, preserving reading order.
func readLines(data []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdftext: open pdf: %w", err)
	}
	var lines []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("pdftext: page %d rows: %w", i, err)
		}
		for _, row := range rows {
			var words []string
			for _, word := range row.Content {
				if w := strings.TrimSpace(word.S); w != "" {
					words = append(words, w)
				}
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
	}
	return lines, nil
}

// splitSections groups lines under recognized headings. Text before the
// first heading becomes an unnamed leading section; the first occurrence
// of each heading wins, so running heads repeating "References" or
// "Methods" do not open second sections.
func splitSections(lines []string, maxChars int) []corpus.Section {
	var (
		sections []corpus.Section
		current  *corpus.Section
		buf      strings.Builder
		seen     = make(map[string]bool)
	)
	flush := func() {
		if current == nil {
			return
		}
		if text := strings.TrimSpace(buf.String()); text != "" {
			current.Paragraphs = append(current.Paragraphs, chunk(text, maxChars)...)
		}
		buf.Reset()
		if current.Heading != "" || len(current.Paragraphs) > 0 {
			sections = append(sections, *current)
		}
	}
	current = &corpus.Section{}
	for _, line := range lines {
		if heading, ok := matchHeading(line); ok {
			key := normalizeHeading(heading)
			if seen[key] {
				continue
			}
			seen[key] = true
			flush()
			current = &corpus.Section{Heading: heading}
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(line)
	}
	flush()
	return sections
}

// matchHeading reports whether the line is a recognized section heading,
// tolerating numbering prefixes and case differences.
func matchHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > 60 {
		return "", false
	}
	normalized := normalizeHeading(trimmed)
	for _, known := range sectionHeadings {
		if normalized == known {
			return trimmed, true
		}
	}
	return "", false
}

// normalizeHeading lowercases a heading and strips numbering and the
// trailing colon, yielding the identity duplicates are detected by.
func normalizeHeading(line string) string {
	normalized := strings.ToLower(strings.TrimSpace(line))
	normalized = strings.TrimLeft(normalized, "0123456789. ")
	return strings.TrimSuffix(normalized, ":")
}

// chunk splits text into pieces of at most maxChars, breaking on word
// boundaries.
func chunk(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}
	words := strings.Fields(text)
	var (
		out []string
		buf strings.Builder
	)
	for _, word := range words {
		if buf.Len() > 0 && buf.Len()+1+len(word) > maxChars {
			out = append(out, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(word)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}
