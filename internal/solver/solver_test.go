package solver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/math-agent/backend/internal/intent"
)

func classify(op intent.Operation) intent.Classification {
	return intent.Classification{Operation: op, Computable: true}
}

func TestSolveLinearEquation(t *testing.T) {
	s := NewSolver()

	result := s.Solve("Solve 2x + 5 = 13", classify(intent.OpSolveLinear))

	assert.True(t, result.Solved)
	assert.Equal(t, "x = 4", result.Solution)
	assert.NotEmpty(t, result.Steps)
}

func TestSolveLinearWithoutConstant(t *testing.T) {
	s := NewSolver()

	result := s.Solve("solve 3x = 12", classify(intent.OpSolveLinear))

	assert.True(t, result.Solved)
	assert.Equal(t, "x = 4", result.Solution)
}

func TestSolveLinearNegativeSolution(t *testing.T) {
	s := NewSolver()

	result := s.Solve("solve 2x + 10 = 4", classify(intent.OpSolveLinear))

	assert.True(t, result.Solved)
	assert.Equal(t, "x = -3", result.Solution)
}

func TestSolveQuadraticTwoRoots(t *testing.T) {
	s := NewSolver()

	result := s.Solve("Solve x^2 - 5x + 6 = 0", classify(intent.OpSolveQuadratic))

	assert.True(t, result.Solved)
	assert.Equal(t, "x = 2 or x = 3", result.Solution)
}

func TestSolveQuadraticRepeatedRoot(t *testing.T) {
	s := NewSolver()

	result := s.Solve("solve x^2 - 4x + 4 = 0", classify(intent.OpSolveQuadratic))

	assert.True(t, result.Solved)
	assert.Equal(t, "x = 2", result.Solution)
}

func TestSolveQuadraticNoRealRoots(t *testing.T) {
	s := NewSolver()

	result := s.Solve("solve x^2 + 1x + 5 = 0", classify(intent.OpSolveQuadratic))

	assert.True(t, result.Solved)
	assert.Equal(t, "No real solutions", result.Solution)
}

func TestFactorQuadratic(t *testing.T) {
	s := NewSolver()

	result := s.Solve("factor x^2 - 5x + 6 = 0", classify(intent.OpFactor))

	assert.True(t, result.Solved)
	assert.Equal(t, "(x - 2)(x - 3)", result.Solution)
}

func TestDifferentiatePolynomial(t *testing.T) {
	s := NewSolver()

	result := s.Solve("derivative of 3x^2 + 2x", classify(intent.OpDifferentiate))

	assert.True(t, result.Solved)
	assert.Contains(t, result.Solution, "6x + 2")
}

func TestDifferentiateConstantDropsOut(t *testing.T) {
	s := NewSolver()

	result := s.Solve("differentiate x^2 + 7", classify(intent.OpDifferentiate))

	assert.True(t, result.Solved)
	assert.True(t, strings.HasSuffix(result.Solution, "= 2x"), result.Solution)
}

func TestIntegratePolynomial(t *testing.T) {
	s := NewSolver()

	result := s.Solve("integrate x^3", classify(intent.OpIntegrate))

	assert.True(t, result.Solved)
	assert.Contains(t, result.Solution, "x^4")
	assert.Contains(t, result.Solution, "+ C")
}

func TestEvaluateArithmetic(t *testing.T) {
	s := NewSolver()

	result := s.Solve("what is 12*(3+4)", classify(intent.OpEvaluate))

	assert.True(t, result.Solved)
	assert.Contains(t, result.Solution, "= 84")
}

func TestEvaluateExponent(t *testing.T) {
	s := NewSolver()

	result := s.Solve("evaluate 2^10", classify(intent.OpEvaluate))

	assert.True(t, result.Solved)
	assert.Contains(t, result.Solution, "= 1024")
}

func TestUnparsableQueryIsNotSolved(t *testing.T) {
	s := NewSolver()

	result := s.Solve("solve the meaning of life", classify(intent.OpSolveLinear))

	assert.False(t, result.Solved)
	assert.Empty(t, result.Solution)
}

func TestExplainOperationIsNotSolved(t *testing.T) {
	s := NewSolver()

	result := s.Solve("what is a derivative", intent.Classification{Operation: intent.OpExplain})

	assert.False(t, result.Solved)
}

func TestExtractMathStripsProse(t *testing.T) {
	assert.Equal(t, "2x+5=13", extractMath("Please solve 2x + 5 = 13"))
	assert.Equal(t, "x^2-5x+6=0", extractMath("Solve x² - 5x + 6 = 0"))
	assert.Equal(t, "3x^2+2x", extractMath("derivative of 3x^2 + 2x"))
}
