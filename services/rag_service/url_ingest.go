package rag_service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/serisow/ragone/pipeline_type"
)

const (
	minPageChars      = 50
	maxPageBytes      = 10 << 20
	descriptionLength = 200
)

// AddFromURL fetches a web page and stores its visible text as a
// knowledge entry.
func (k *KnowledgeService) AddFromURL(ctx context.Context, owner, rawURL string, tags []string) (*pipeline_type.KnowledgeEntry, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an http(s) URL", pipeline_type.ErrInvalidInput, rawURL)
	}

	text, err := k.fetchPageText(ctx, u.String())
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(text) < minPageChars {
		return nil, fmt.Errorf("%w: page %s has %d characters of text", pipeline_type.ErrContentTooShort, u.String(), utf8.RuneCountInString(text))
	}

	ref := u.String()
	return k.AddManual(ctx, KnowledgeInput{
		Owner:           owner,
		Title:           pageTitle(text, u.Host),
		Description:     truncateRunes(text, descriptionLength),
		Content:         text,
		SourceType:      pipeline_type.SourceURL,
		SourceReference: &ref,
		Tags:            tags,
	})
}

func (k *KnowledgeService) fetchPageText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if k.userAgent != "" {
		req.Header.Set("User-Agent", k.userAgent)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		k.logger.Error("Failed to fetch URL",
			slog.String("url", pageURL),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetching %s returned status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML from %s: %w", pageURL, err)
	}
	return visibleText(doc), nil
}

// visibleText drops non-content elements and normalises whitespace line
// by line, discarding empty lines.
func visibleText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template, iframe").Remove()
	// Block elements end a line so paragraphs stay separate.
	doc.Find("p, div, br, li, h1, h2, h3, h4, h5, h6, tr, section, article, header, footer").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return collapseWhitespace(root.Text())
}

// pageTitle is the first line of 10 to 100 characters, else the host.
func pageTitle(text, host string) string {
	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		if n >= 10 && n <= 100 {
			return line
		}
	}
	return host
}
