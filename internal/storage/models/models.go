package models

import "time"

// Route is the closed set of information sources a response can be built from.
type Route string

const (
	RouteKnowledgeBase     Route = "knowledge_base"
	RouteWebSearch         Route = "web_search"
	RouteHybrid            Route = "hybrid"
	RouteFallback          Route = "fallback"
	RouteNoAnswer          Route = "no_answer"
	RouteGuardrailRejected Route = "guardrail_rejected"
)

func (r Route) Valid() bool {
	switch r {
	case RouteKnowledgeBase, RouteWebSearch, RouteHybrid, RouteFallback, RouteNoAnswer, RouteGuardrailRejected:
		return true
	}
	return false
}

type KnowledgeEntry struct {
	ID           string
	Question     string
	Solution     string
	Steps        []string
	Topics       []string
	Alternatives []string
	Embedding    []float32
	UsageCount   int64
	Quality      float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type SearchResult struct {
	Entry      *KnowledgeEntry
	Similarity float64
}

type Citation struct {
	Type    string `json:"type"`
	Locator string `json:"locator"`
}

type RouteDecision struct {
	Route      Route
	Confidence float64
	Consulted  []string
	Reasoning  string
}

type ResponseEnvelope struct {
	ID         string
	Query      string
	Route      Route
	Solution   string
	Steps      []string
	Citations  []Citation
	Confidence float64
	LatencyMS  int
	EntryID    string
	Consulted  []string
	CreatedAt  time.Time
}

type Feedback struct {
	ResponseID           string
	Rating               int
	Helpful              bool
	Correct              bool
	Clear                bool
	Complete             bool
	Comments             string
	SuggestedImprovement string
	AlternativeSolution  string
	CreatedAt            time.Time
}

type RouteStats struct {
	Count       int64     `json:"count"`
	RatingSum   int64     `json:"rating_sum"`
	MeanRating  float64   `json:"mean_rating"`
	Helpful     int64     `json:"helpful"`
	NotHelpful  int64     `json:"not_helpful"`
	Correct     int64     `json:"correct"`
	Incorrect   int64     `json:"incorrect"`
	Clear       int64     `json:"clear"`
	Unclear     int64     `json:"unclear"`
	Complete    int64     `json:"complete"`
	Incomplete  int64     `json:"incomplete"`
	LastUpdated time.Time `json:"last_updated"`
}

type FeedbackStats struct {
	Global  RouteStats            `json:"global"`
	ByRoute map[Route]*RouteStats `json:"by_route"`
}

type KnowledgeBaseStats struct {
	EntryCount  int            `json:"entry_count"`
	AvgQuality  float64        `json:"avg_quality"`
	Topics      map[string]int `json:"topics"`
	Dimension   int            `json:"dimension"`
	LastRebuilt time.Time      `json:"last_rebuilt"`
}
