package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/math-agent/backend/internal/storage/models"
)

const resultsPage = `
<html><body>
<div class="result">
  <a class="result__a" href="/l/?uddg=https%3A%2F%2Fmathworld.wolfram.com%2FQuadraticEquation.html">Quadratic Equation formula</a>
  <div class="result__snippet">How to solve a quadratic equation with the formula.</div>
</div>
<div class="result">
  <a class="result__a" href="https://example.org/math">Math equation help</a>
  <div class="result__snippet">Solve any equation step by step.</div>
</div>
<div class="result">
  <a class="result__a" href="https://shop.example.org/deals">Buy calculators on sale</a>
  <div class="result__snippet">Best price for shopping calculators, sale now.</div>
</div>
</body></html>`

func TestSearchParsesAndRanksResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(resultsPage))
	}))
	defer server.Close()

	c := NewClient(5, 5)
	c.searchURL = server.URL

	results, err := c.Search(context.Background(), "quadratic equation", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The math domain outranks the generic one, the shopping result is
	// filtered out entirely.
	assert.Equal(t, "https://mathworld.wolfram.com/QuadraticEquation.html", results[0].URL)
	assert.Greater(t, results[0].Relevance, results[1].Relevance)
	for _, r := range results {
		assert.NotContains(t, r.URL, "shop.example.org")
	}
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(resultsPage))
	}))
	defer server.Close()

	c := NewClient(5, 5)
	c.searchURL = server.URL

	results, err := c.Search(context.Background(), "quadratic equation", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchServerErrorIsRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(5, 5)
	c.searchURL = server.URL

	_, err := c.Search(context.Background(), "quadratic equation", 5)

	assert.ErrorIs(t, err, models.ErrRecoverable)
}

func TestSearchUnreachableHostIsRecoverable(t *testing.T) {
	c := NewClient(1, 5)
	c.searchURL = "http://127.0.0.1:1"

	_, err := c.Search(context.Background(), "quadratic equation", 5)

	assert.ErrorIs(t, err, models.ErrRecoverable)
}

func TestResolveRedirect(t *testing.T) {
	assert.Equal(t,
		"https://mathworld.wolfram.com/QuadraticEquation.html",
		resolveRedirect("/l/?uddg=https%3A%2F%2Fmathworld.wolfram.com%2FQuadraticEquation.html"),
	)
	assert.Equal(t, "https://example.org/x", resolveRedirect("https://example.org/x"))
}

func TestRankResultsScoresQueryOverlap(t *testing.T) {
	results := rankResults([]SearchResult{
		{Title: "quadratic equation formula", Snippet: "solve the equation", URL: "https://example.org/a"},
		{Title: "unrelated", Snippet: "nothing", URL: "https://example.org/b"},
	}, "quadratic equation")

	require.Len(t, results, 1)
	assert.Equal(t, "https://example.org/a", results[0].URL)
}
