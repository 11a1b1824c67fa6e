package knowledge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

// EmbedFunc produces the embedding used to index an entry.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

const seedQuality = 0.6

// SeedEntries returns the starter corpus used when the index is empty.
func SeedEntries() []models.KnowledgeEntry {
	return []models.KnowledgeEntry{
		{
			ID:       "quad_formula",
			Question: "What is the quadratic formula?",
			Solution: "The quadratic formula is x = (-b ± √(b²-4ac)) / (2a)",
			Steps:    []string{"This formula solves quadratic equations of the form ax² + bx + c = 0"},
			Topics:   []string{"algebra", "quadratic", "formula", "equation", "roots"},
			Quality:  seedQuality,
		},
		{
			ID:       "derivative_rules",
			Question: "What are the basic derivative rules?",
			Solution: "Power rule: d/dx(x^n) = nx^(n-1), Product rule: d/dx(uv) = u'v + uv', Chain rule: d/dx(f(g(x))) = f'(g(x))g'(x)",
			Steps:    []string{"These are the fundamental rules for finding derivatives in calculus"},
			Topics:   []string{"calculus", "derivative", "power rule", "product rule", "chain rule"},
			Quality:  seedQuality,
		},
		{
			ID:       "pythagorean_theorem",
			Question: "What is the Pythagorean theorem?",
			Solution: "In a right triangle, a² + b² = c², where c is the hypotenuse",
			Steps:    []string{"The square of the hypotenuse equals the sum of squares of the other two sides"},
			Topics:   []string{"geometry", "pythagorean", "theorem", "triangle", "hypotenuse"},
			Quality:  seedQuality,
		},
		{
			ID:       "integration_basic",
			Question: "What is integration?",
			Solution: "Integration is the reverse process of differentiation, used to find areas under curves",
			Steps:    []string{"The integral ∫f(x)dx represents the antiderivative of f(x) plus a constant"},
			Topics:   []string{"calculus", "integration", "integral", "antiderivative"},
			Quality:  seedQuality,
		},
		{
			ID:       "linear_equation",
			Question: "How to solve linear equations?",
			Solution: "For ax + b = c, solve by isolating x: x = (c - b) / a",
			Steps:    []string{"Linear equations have the form ax + b = c and can be solved by algebraic manipulation"},
			Topics:   []string{"algebra", "linear", "equation", "solve"},
			Quality:  seedQuality,
		},
		{
			ID:       "trig_identities",
			Question: "What are basic trigonometric identities?",
			Solution: "sin²θ + cos²θ = 1, tan θ = sin θ / cos θ, sin(2θ) = 2sin θ cos θ",
			Steps:    []string{"These identities are fundamental relationships between trigonometric functions"},
			Topics:   []string{"trigonometry", "identities", "sin", "cos", "tan"},
			Quality:  seedQuality,
		},
		{
			ID:       "factorial",
			Question: "What is a factorial?",
			Solution: "n! = n × (n-1) × (n-2) × ... × 1, with 0! = 1",
			Steps:    []string{"Factorial is the product of all positive integers up to n"},
			Topics:   []string{"combinatorics", "factorial", "multiplication"},
			Quality:  seedQuality,
		},
		{
			ID:       "slope_formula",
			Question: "What is the slope formula?",
			Solution: "slope = (y₂ - y₁) / (x₂ - x₁) for points (x₁,y₁) and (x₂,y₂)",
			Steps:    []string{"Slope measures the rate of change between two points on a line"},
			Topics:   []string{"algebra", "slope", "formula", "line", "rate of change"},
			Quality:  seedQuality,
		},
		{
			ID:       "area_circle",
			Question: "What is the area of a circle?",
			Solution: "Area = πr², where r is the radius",
			Steps:    []string{"The area of a circle is pi times the square of its radius"},
			Topics:   []string{"geometry", "area", "circle", "radius", "pi"},
			Quality:  seedQuality,
		},
		{
			ID:       "solve_quadratic",
			Question: "How to solve x² - 5x + 6 = 0?",
			Solution: "x = 2 or x = 3",
			Steps:    []string{"Factor as (x-2)(x-3) = 0 or use quadratic formula"},
			Topics:   []string{"algebra", "quadratic", "solve", "factoring", "equation"},
			Quality:  seedQuality,
		},
	}
}

// EmbedText builds the text an entry is indexed under: the question carries
// the intent, the solution and topics add recall for paraphrased queries.
func EmbedText(e *models.KnowledgeEntry) string {
	return strings.TrimSpace(e.Question + " " + e.Solution + " " + strings.Join(e.Topics, " "))
}

// Seed populates an empty index with the starter corpus. It is a no-op when
// the index already has entries.
func Seed(ctx context.Context, idx *Index, embed EmbedFunc) (int, error) {
	if idx.Count() > 0 {
		return 0, nil
	}

	seeded := 0
	for _, entry := range SeedEntries() {
		embedding, err := embed(ctx, EmbedText(&entry))
		if err != nil {
			return seeded, fmt.Errorf("failed to embed seed entry %s: %w", entry.ID, err)
		}
		entry.Embedding = embedding

		if _, err := idx.InsertOrUpdate(&entry); err != nil {
			return seeded, fmt.Errorf("failed to insert seed entry %s: %w", entry.ID, err)
		}
		seeded++
	}

	logger.Info("Knowledge base seeded", zap.Int("entries", seeded))
	return seeded, nil
}
