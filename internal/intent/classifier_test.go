package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLinearEquation(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("Solve 2x + 5 = 13")

	assert.Equal(t, OpSolveLinear, cls.Operation)
	assert.Equal(t, "algebra", cls.Topic)
	assert.True(t, cls.Computable)
}

func TestClassifyQuadraticEquation(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("Solve x^2 - 5x + 6 = 0")

	assert.Equal(t, OpSolveQuadratic, cls.Operation)
	assert.True(t, cls.Computable)
}

func TestClassifyDerivative(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("What is the derivative of 3x^2 + 2x?")

	assert.Equal(t, OpDifferentiate, cls.Operation)
	assert.Equal(t, "calculus", cls.Topic)
	assert.True(t, cls.Computable)
}

func TestClassifyIntegral(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("Integrate x^3 with respect to x")

	assert.Equal(t, OpIntegrate, cls.Operation)
	assert.Equal(t, "calculus", cls.Topic)
}

func TestClassifyFactor(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("Factor x^2 - 9 = 0")

	assert.Equal(t, OpFactor, cls.Operation)
}

func TestClassifyNumericExpression(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("what is 12*(3+4)")

	assert.Equal(t, OpEvaluate, cls.Operation)
	assert.True(t, cls.Computable)
}

func TestClassifyConceptQuestion(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("What is the Pythagorean theorem?")

	assert.Equal(t, OpExplain, cls.Operation)
	assert.Equal(t, "geometry", cls.Topic)
	assert.False(t, cls.Computable)
}

func TestClassifyTopicFallsBackToGeneral(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("compute 1+1")

	assert.Equal(t, "general", cls.Topic)
}

func TestSignificantTermsDropStopwords(t *testing.T) {
	c := NewClassifier()

	cls := c.Classify("What is the quadratic formula for an equation?")

	assert.Contains(t, cls.Terms, "quadratic")
	assert.Contains(t, cls.Terms, "formula")
	assert.NotContains(t, cls.Terms, "the")
	assert.NotContains(t, cls.Terms, "what")
}

func TestSignificantTermsDeduplicated(t *testing.T) {
	terms := fallbackTerms("solve solve solve equation")

	count := 0
	for _, term := range terms {
		if term == "solve" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
