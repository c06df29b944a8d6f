// Package extract converts fetched HTML into markdown and pulls outbound
// links for frontier expansion.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
)

// Extractor implements crawler.ContentExtractor and crawler.LinkExtractor.
type Extractor struct {
	conv *converter.Converter
}

// New builds an Extractor with the commonmark and table plugins.
func New() *Extractor {
	return &Extractor{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Extract converts HTML to markdown and returns it with the page title and a
// word count. Relative links inside the markdown are resolved against
// sourceURL.
func (e *Extractor) Extract(html []byte, sourceURL string) (string, string, int, error) {
	markdown, err := e.conv.ConvertString(string(html), converter.WithDomain(sourceURL))
	if err != nil {
		return "", "", 0, fmt.Errorf("convert html: %w", err)
	}
	markdown = strings.TrimSpace(markdown)

	title := ""
	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if docErr == nil {
		title = pageTitle(doc)
	}

	return markdown, title, len(strings.Fields(markdown)), nil
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// Links returns the absolute http(s) URLs referenced by anchor tags, resolved
// against baseURL. Fragment-only, mailto, javascript and similar schemes are
// dropped. Duplicates are preserved; the scope filter dedups downstream.
func (e *Extractor) Links(html []byte, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		links = append(links, abs.String())
	})
	return links, nil
}
