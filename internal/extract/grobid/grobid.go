// Package grobid extracts structure from PDFs via a GROBID service.
package grobid

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// Config parameterizes the client.
type Config struct {
	Endpoint string
	// Timeout is the hard cap for one processing call. GROBID can take well
	// over a minute on long documents.
	Timeout time.Duration
	Client  *http.Client
}

// Strategy implements extract.Strategy against a GROBID deployment.
type Strategy struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a GROBID strategy.
func New(cfg Config, logger *zap.Logger) (*Strategy, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("grobid: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{cfg: cfg, client: cfg.Client, logger: logger}, nil
}

// Method identifies the strategy.
func (s *Strategy) Method() corpus.ExtractionMethod { return corpus.MethodGrobid }

// Extract posts the PDF to processFulltextDocument and parses the TEI reply.
func (s *Strategy) Extract(ctx context.Context, raw corpus.RawDocument, data []byte) (corpus.StructuredDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("input", raw.Hash+".pdf")
	if err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid form write: %w", err)
	}
	// Header consolidation improves title/author quality; citation
	// consolidation is too slow for bulk runs.
	if err := writer.WriteField("consolidateHeader", "1"); err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid form field: %w", err)
	}
	if err := writer.WriteField("consolidateCitations", "0"); err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid form field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid form close: %w", err)
	}

	endpoint := strings.TrimSuffix(s.cfg.Endpoint, "/") + "/api/processFulltextDocument"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/xml")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return corpus.StructuredDocument{}, fmt.Errorf("grobid busy: %w", corpus.ErrStrategyUnavailable)
	default:
		return corpus.StructuredDocument{}, &corpus.HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	tei, err := io.ReadAll(resp.Body)
	if err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid read: %w", err)
	}
	doc, err := parseTEI(tei)
	if err != nil {
		return corpus.StructuredDocument{}, err
	}
	s.logger.Debug("grobid processed document",
		zap.String("hash", raw.Hash),
		zap.Duration("took", time.Since(start)),
		zap.Int("sections", len(doc.Sections)),
	)
	return doc, nil
}

// parseTEI pulls title, abstract, body sections, and the bibliography out
// of a TEI document.
func parseTEI(tei []byte) (corpus.StructuredDocument, error) {
	root, err := xmlquery.Parse(bytes.NewReader(tei))
	if err != nil {
		return corpus.StructuredDocument{}, fmt.Errorf("grobid tei parse: %w", err)
	}

	var doc corpus.StructuredDocument
	if n := xmlquery.FindOne(root, "//teiHeader//titleStmt/title"); n != nil {
		doc.Title = clean(n.InnerText())
	}
	var abstractParts []string
	for _, p := range xmlquery.Find(root, "//teiHeader//abstract//p") {
		if text := clean(p.InnerText()); text != "" {
			abstractParts = append(abstractParts, text)
		}
	}
	doc.Abstract = strings.Join(abstractParts, "\n")

	for _, author := range xmlquery.Find(root, "//teiHeader//sourceDesc//author/persName") {
		name := personName(author)
		if name != "" {
			doc.Authors = append(doc.Authors, name)
		}
	}

	for _, div := range xmlquery.Find(root, "//text/body/div") {
		section := corpus.Section{}
		if head := xmlquery.FindOne(div, "head"); head != nil {
			section.Heading = clean(head.InnerText())
		}
		for _, p := range xmlquery.Find(div, "p") {
			if text := clean(p.InnerText()); text != "" {
				section.Paragraphs = append(section.Paragraphs, text)
			}
		}
		if section.Heading != "" || len(section.Paragraphs) > 0 {
			doc.Sections = append(doc.Sections, section)
		}
	}

	for _, bibl := range xmlquery.Find(root, "//listBibl/biblStruct") {
		ref := corpus.Reference{}
		if n := xmlquery.FindOne(bibl, ".//title"); n != nil {
			ref.Title = clean(n.InnerText())
		}
		for _, author := range xmlquery.Find(bibl, ".//author/persName") {
			if name := personName(author); name != "" {
				ref.Authors = append(ref.Authors, name)
			}
		}
		if n := xmlquery.FindOne(bibl, ".//monogr/title"); n != nil {
			ref.Venue = clean(n.InnerText())
		}
		if n := xmlquery.FindOne(bibl, ".//date"); n != nil {
			ref.Year = clean(n.SelectAttr("when"))
			if ref.Year == "" {
				ref.Year = clean(n.InnerText())
			}
		}
		if ref.Title != "" || len(ref.Authors) > 0 {
			doc.References = append(doc.References, ref)
		}
	}
	return doc, nil
}

func personName(persName *xmlquery.Node) string {
	var parts []string
	for _, tag := range []string{"forename", "surname"} {
		for _, n := range xmlquery.Find(persName, tag) {
			if text := clean(n.InnerText()); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, " ")
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
