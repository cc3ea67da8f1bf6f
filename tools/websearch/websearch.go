package websearch

import (
	"context"
	"errors"
	"log"

	"deepresearch/tools/webfetch"
	"deepresearch/tools/websearch/brave"
	"deepresearch/tools/websearch/models"
	"deepresearch/tools/websearch/serper"
)

// WebSearcher finds candidate pages for a query.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// SearchAndScraper is the search collaborator the engines consume: one
// call searches and scrapes the top hits into readable documents.
type SearchAndScraper interface {
	SearchAndScrape(ctx context.Context, query string, maxResults int) ([]models.Document, error)
}

// Scraper composes a searcher with a page fetcher. Pages that fail to
// fetch degrade to their search snippet instead of dropping the hit.
type Scraper struct {
	Searcher WebSearcher
	Fetcher  webfetch.WebFetcher
	Logger   *log.Logger
}

func (s *Scraper) SearchAndScrape(ctx context.Context, query string, maxResults int) ([]models.Document, error) {
	hits, err := s.Searcher.Discover(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	docs := make([]models.Document, 0, len(hits))
	for _, hit := range hits {
		if ctx.Err() != nil {
			return docs, ctx.Err()
		}
		doc := models.Document{URL: hit.URL, Title: hit.Title, MarkdownBody: hit.Snippet}
		if s.Fetcher != nil {
			page, err := s.Fetcher.Exec(ctx, hit.URL)
			if err != nil || page.Text == "" {
				if s.Logger != nil {
					s.Logger.Printf("fetch failed for %s, keeping snippet: %v", hit.URL, err)
				}
			} else {
				if page.Title != "" {
					doc.Title = page.Title
				}
				doc.MarkdownBody = page.Text
				doc.HTMLBody = page.HTML
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
