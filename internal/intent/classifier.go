package intent

import (
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/math-agent/backend/pkg/logger"
)

type Operation string

const (
	OpSolveLinear    Operation = "solve_linear"
	OpSolveQuadratic Operation = "solve_quadratic"
	OpDifferentiate  Operation = "differentiate"
	OpIntegrate      Operation = "integrate"
	OpSimplify       Operation = "simplify"
	OpFactor         Operation = "factor"
	OpEvaluate       Operation = "evaluate"
	OpExplain        Operation = "explain"
)

type Classification struct {
	Topic      string
	Operation  Operation
	Computable bool
	Terms      []string
}

var (
	quadraticPattern  = regexp.MustCompile(`(?i)[x-z]\s*(\^\s*2|²)|quadratic`)
	linearPattern     = regexp.MustCompile(`(?i)(^|[^^²])[x-z]\s*([+\-=]|$)|linear`)
	derivativePattern = regexp.MustCompile(`(?i)derivative|differentiate|d/d[x-z]`)
	integralPattern   = regexp.MustCompile(`(?i)integral|integrate|∫|antiderivative`)
	simplifyPattern   = regexp.MustCompile(`(?i)simplify|expand`)
	factorPattern     = regexp.MustCompile(`(?i)factor`)
	equationPattern   = regexp.MustCompile(`=`)
	numericExpression = regexp.MustCompile(`^[\d\s+\-*/().^%]+$`)
	arithmeticOps     = regexp.MustCompile(`[+\-*/^]`)

	topicKeywords = map[string][]string{
		"algebra":      {"equation", "solve", "linear", "quadratic", "polynomial", "factor", "slope", "formula"},
		"calculus":     {"derivative", "integral", "limit", "differentiate", "integrate", "antiderivative"},
		"geometry":     {"triangle", "circle", "area", "volume", "angle", "pythagorean", "hypotenuse"},
		"trigonometry": {"sin", "cos", "tan", "trig", "identity", "radian"},
		"statistics":   {"probability", "mean", "median", "variance", "deviation", "distribution", "factorial"},
	}

	stopwords = map[string]bool{
		"the": true, "a": true, "an": true, "is": true, "are": true, "of": true,
		"to": true, "for": true, "in": true, "on": true, "what": true, "how": true,
		"and": true, "or": true, "do": true, "does": true, "with": true, "by": true,
		"please": true, "me": true, "i": true, "you": true, "can": true, "it": true,
	}
)

type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

func (c *Classifier) Classify(text string) Classification {
	lower := strings.ToLower(text)

	cls := Classification{
		Topic:     detectTopic(lower),
		Operation: detectOperation(lower),
		Terms:     significantTerms(lower),
	}
	cls.Computable = isComputable(cls.Operation)

	logger.Debug("Query classified",
		zap.String("topic", cls.Topic),
		zap.String("operation", string(cls.Operation)),
		zap.Bool("computable", cls.Computable),
	)

	return cls
}

func detectOperation(lower string) Operation {
	switch {
	case derivativePattern.MatchString(lower):
		return OpDifferentiate
	case integralPattern.MatchString(lower):
		return OpIntegrate
	case factorPattern.MatchString(lower):
		return OpFactor
	case simplifyPattern.MatchString(lower):
		return OpSimplify
	case quadraticPattern.MatchString(lower) && equationPattern.MatchString(lower):
		return OpSolveQuadratic
	case equationPattern.MatchString(lower) && linearPattern.MatchString(lower):
		return OpSolveLinear
	case strings.Contains(lower, "solve") && quadraticPattern.MatchString(lower):
		return OpSolveQuadratic
	case strings.Contains(lower, "solve"):
		return OpSolveLinear
	case hasNumericExpression(lower):
		return OpEvaluate
	default:
		return OpExplain
	}
}

func detectTopic(lower string) string {
	bestTopic := "general"
	bestScore := 0

	for topic, keywords := range topicKeywords {
		score := 0
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestTopic = topic
		}
	}

	return bestTopic
}

// significantTerms tokenizes the query and keeps content-bearing tokens.
// These feed the hybrid route's corroboration overlap check.
func significantTerms(lower string) []string {
	doc, err := prose.NewDocument(lower,
		prose.WithExtraction(false),
		prose.WithTagging(false),
	)
	if err != nil {
		logger.Warn("Tokenization failed, falling back to field split", zap.Error(err))
		return fallbackTerms(lower)
	}

	seen := make(map[string]bool)
	terms := []string{}
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(strings.TrimSpace(tok.Text))
		if len(word) < 2 || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		terms = append(terms, word)
	}

	return terms
}

func fallbackTerms(lower string) []string {
	seen := make(map[string]bool)
	terms := []string{}
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,?!:;")
		if len(word) < 2 || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		terms = append(terms, word)
	}
	return terms
}

func hasNumericExpression(lower string) bool {
	for _, field := range strings.Fields(lower) {
		if numericExpression.MatchString(field) && arithmeticOps.MatchString(field) {
			return true
		}
	}
	return false
}

func isComputable(op Operation) bool {
	switch op {
	case OpSolveLinear, OpSolveQuadratic, OpDifferentiate, OpIntegrate, OpSimplify, OpFactor, OpEvaluate:
		return true
	}
	return false
}
