package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

type Client struct {
	searchURL  string
	httpClient *http.Client
	maxResults int
}

type SearchResult struct {
	Title     string
	URL       string
	Snippet   string
	Relevance float64
}

var mathDomains = []string{
	"mathworld.wolfram.com",
	"en.wikipedia.org",
	"khanacademy.org",
	"mathstackexchange.com",
	"brilliant.org",
	"mit.edu",
	"stanford.edu",
}

func NewClient(timeoutSec, maxResults int) *Client {
	if timeoutSec == 0 {
		timeoutSec = 10
	}
	if maxResults == 0 {
		maxResults = 5
	}
	return &Client{
		searchURL: "https://html.duckduckgo.com/html/",
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		maxResults: maxResults,
	}
}

// Search queries DuckDuckGo's HTML endpoint and returns math-relevant
// results ordered by relevance. Failures are wrapped as recoverable so the
// routing engine can fall through to the next source.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 || maxResults > c.maxResults {
		maxResults = c.maxResults
	}

	logger.Info("Performing web search", zap.String("query", query))

	form := url.Values{}
	form.Add("q", query+" math")

	req, err := http.NewRequestWithContext(ctx, "POST", c.searchURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, models.Recoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.Recoverable(fmt.Errorf("failed to search: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.Recoverable(fmt.Errorf("search returned status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, models.Recoverable(fmt.Errorf("failed to parse HTML: %w", err))
	}

	results := parseResults(doc)
	results = rankResults(results, query)
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	logger.Info("Web search completed", zap.Int("results", len(results)))
	return results, nil
}

func parseResults(doc *goquery.Document) []SearchResult {
	results := make([]SearchResult, 0)
	doc.Find("div.result, div.web-result").Each(func(i int, s *goquery.Selection) {
		titleLink := s.Find("a.result__a")
		title := strings.TrimSpace(titleLink.Text())
		link, _ := titleLink.Attr("href")
		snippet := strings.TrimSpace(s.Find("div.result__snippet, a.result__snippet").Text())

		if title != "" && link != "" {
			results = append(results, SearchResult{
				Title:   title,
				URL:     resolveRedirect(link),
				Snippet: snippet,
			})
		}
	})
	return results
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return link
}

func rankResults(results []SearchResult, query string) []SearchResult {
	queryWords := strings.Fields(strings.ToLower(query))

	ranked := make([]SearchResult, 0, len(results))
	for _, r := range results {
		score := 0.0
		lowerURL := strings.ToLower(r.URL)
		for _, domain := range mathDomains {
			if strings.Contains(lowerURL, domain) {
				score += 2.0
				break
			}
		}

		lowerTitle := strings.ToLower(r.Title)
		for _, word := range []string{"math", "formula", "equation", "theorem", "proof"} {
			if strings.Contains(lowerTitle, word) {
				score += 1.0
				break
			}
		}

		lowerSnippet := strings.ToLower(r.Snippet)
		for _, word := range []string{"solve", "formula", "equation", "calculate"} {
			if strings.Contains(lowerSnippet, word) {
				score += 0.5
				break
			}
		}

		content := lowerTitle + " " + lowerSnippet
		if len(queryWords) > 0 {
			matching := 0
			for _, word := range queryWords {
				if strings.Contains(content, word) {
					matching++
				}
			}
			score += float64(matching) / float64(len(queryWords)) * 1.5
		}

		for _, term := range []string{"shopping", "buy", "price", "sale"} {
			if strings.Contains(content, term) {
				score -= 1.0
				break
			}
		}

		if score > 0.5 {
			r.Relevance = score
			ranked = append(ranked, r)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	return ranked
}
