package solver

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/intent"
	"github.com/math-agent/backend/pkg/logger"
)

// Result carries a deterministic solution. Solved=false means the query did
// not match any template the solver can handle; that is not an error.
type Result struct {
	Solved   bool
	Solution string
	Steps    []string
}

type Solver struct{}

func NewSolver() *Solver {
	return &Solver{}
}

var (
	linearEq    = regexp.MustCompile(`^([+-]?\d*\.?\d*)\*?([a-z])((?:[+-]\d+\.?\d*)?)=([+-]?\d+\.?\d*)$`)
	quadraticEq = regexp.MustCompile(`^([+-]?\d*\.?\d*)\*?([a-z])\^2((?:[+-]\d*\.?\d*)\*?[a-z])?((?:[+-]\d+\.?\d*)?)=0$`)
	polyTerm    = regexp.MustCompile(`^([+-]?\d*\.?\d*)\*?(?:([a-z])(?:\^(\d+))?)?$`)
	numericExpr = regexp.MustCompile(`^[\d+\-*/^().%\s]+$`)
	wordToken   = regexp.MustCompile(`^[a-z]{2,}$`)
)

func (s *Solver) Solve(query string, cls intent.Classification) Result {
	expr := extractMath(query)
	if expr == "" {
		return Result{}
	}

	var res Result
	switch cls.Operation {
	case intent.OpSolveLinear:
		res = solveLinear(expr)
	case intent.OpSolveQuadratic, intent.OpFactor:
		res = solveQuadratic(expr, cls.Operation == intent.OpFactor)
	case intent.OpDifferentiate:
		res = differentiate(expr)
	case intent.OpIntegrate:
		res = integrate(expr)
	case intent.OpEvaluate, intent.OpSimplify:
		res = evaluate(expr)
	default:
		return Result{}
	}

	if res.Solved {
		logger.Info("Solver produced deterministic answer",
			zap.String("operation", string(cls.Operation)),
			zap.String("expression", expr),
		)
	}
	return res
}

// extractMath strips the surrounding prose and returns the bare expression:
// word tokens are dropped, math tokens are joined without spaces.
func extractMath(query string) string {
	lower := strings.ToLower(query)
	lower = strings.ReplaceAll(lower, "²", "^2")
	lower = strings.ReplaceAll(lower, "³", "^3")

	var cleaned strings.Builder
	for _, r := range lower {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z':
			cleaned.WriteRune(r)
		case strings.ContainsRune("+-*/^=().% ", r):
			cleaned.WriteRune(r)
		default:
			cleaned.WriteRune(' ')
		}
	}

	var parts []string
	for _, tok := range strings.Fields(cleaned.String()) {
		if wordToken.MatchString(tok) {
			continue
		}
		parts = append(parts, tok)
	}

	expr := strings.Join(parts, "")
	expr = strings.TrimPrefix(expr, "d/dx")
	return strings.Trim(expr, "?.!,")
}

func solveLinear(expr string) Result {
	m := linearEq.FindStringSubmatch(expr)
	if m == nil {
		return Result{}
	}

	a := parseCoeff(m[1])
	variable := m[2]
	b := 0.0
	if m[3] != "" {
		b, _ = strconv.ParseFloat(m[3], 64)
	}
	c, _ := strconv.ParseFloat(m[4], 64)

	if a == 0 {
		return Result{}
	}

	x := (c - b) / a
	steps := []string{
		fmt.Sprintf("Start with %s%s %s = %s", fmtCoeff(a), variable, fmtSigned(b), fmtNum(c)),
		fmt.Sprintf("Subtract %s from both sides: %s%s = %s", fmtNum(b), fmtCoeff(a), variable, fmtNum(c-b)),
		fmt.Sprintf("Divide both sides by %s: %s = %s", fmtNum(a), variable, fmtNum(x)),
	}
	return Result{
		Solved:   true,
		Solution: fmt.Sprintf("%s = %s", variable, fmtNum(x)),
		Steps:    steps,
	}
}

func solveQuadratic(expr string, factor bool) Result {
	m := quadraticEq.FindStringSubmatch(expr)
	if m == nil {
		return Result{}
	}

	a := parseCoeff(m[1])
	variable := m[2]
	b := 0.0
	if m[3] != "" {
		b = parseCoeff(strings.TrimRight(strings.TrimSuffix(m[3], variable), "*"))
	}
	c := 0.0
	if m[4] != "" {
		c, _ = strconv.ParseFloat(m[4], 64)
	}

	if a == 0 {
		return Result{}
	}

	disc := b*b - 4*a*c
	steps := []string{
		fmt.Sprintf("Identify coefficients: a = %s, b = %s, c = %s", fmtNum(a), fmtNum(b), fmtNum(c)),
		fmt.Sprintf("Compute the discriminant: b² - 4ac = %s", fmtNum(disc)),
	}

	if disc < 0 {
		steps = append(steps, "The discriminant is negative, so there are no real roots")
		return Result{Solved: true, Solution: "No real solutions", Steps: steps}
	}

	sqrtDisc := math.Sqrt(disc)
	x1 := (-b + sqrtDisc) / (2 * a)
	x2 := (-b - sqrtDisc) / (2 * a)

	lo, hi := x1, x2
	if lo > hi {
		lo, hi = hi, lo
	}

	if factor && isInteger(lo) && isInteger(hi) {
		steps = append(steps, fmt.Sprintf("Roots are %s and %s, giving the factorization", fmtNum(lo), fmtNum(hi)))
		return Result{
			Solved:   true,
			Solution: fmt.Sprintf("(%s %s)(%s %s)", variable, fmtSignedRoot(lo), variable, fmtSignedRoot(hi)),
			Steps:    steps,
		}
	}

	if disc == 0 {
		steps = append(steps, fmt.Sprintf("Single repeated root: %s = %s", variable, fmtNum(x1)))
		return Result{
			Solved:   true,
			Solution: fmt.Sprintf("%s = %s", variable, fmtNum(x1)),
			Steps:    steps,
		}
	}
	steps = append(steps, fmt.Sprintf("Apply the quadratic formula: %s = (-b ± √%s) / (2a)", variable, fmtNum(disc)))
	return Result{
		Solved:   true,
		Solution: fmt.Sprintf("%s = %s or %s = %s", variable, fmtNum(lo), variable, fmtNum(hi)),
		Steps:    steps,
	}
}

type term struct {
	coeff float64
	power int
}

func differentiate(expr string) Result {
	terms, variable, ok := parsePolynomial(expr)
	if !ok {
		return Result{}
	}

	var out []term
	for _, t := range terms {
		if t.power == 0 {
			continue
		}
		out = append(out, term{coeff: t.coeff * float64(t.power), power: t.power - 1})
	}

	derived := formatPolynomial(out, variable)
	if derived == "" {
		derived = "0"
	}

	return Result{
		Solved:   true,
		Solution: fmt.Sprintf("d/d%s(%s) = %s", variable, formatPolynomial(terms, variable), derived),
		Steps: []string{
			"Apply the power rule to each term: d/dx(ax^n) = n·ax^(n-1)",
			fmt.Sprintf("Result: %s", derived),
		},
	}
}

func integrate(expr string) Result {
	terms, variable, ok := parsePolynomial(expr)
	if !ok {
		return Result{}
	}

	var out []term
	for _, t := range terms {
		out = append(out, term{coeff: t.coeff / float64(t.power+1), power: t.power + 1})
	}

	integral := formatPolynomial(out, variable)
	return Result{
		Solved:   true,
		Solution: fmt.Sprintf("∫(%s)d%s = %s + C", formatPolynomial(terms, variable), variable, integral),
		Steps: []string{
			"Apply the reverse power rule to each term: ∫ax^n dx = a·x^(n+1)/(n+1)",
			fmt.Sprintf("Result: %s + C", integral),
		},
	}
}

func evaluate(expr string) Result {
	if !numericExpr.MatchString(expr) || !strings.ContainsAny(expr, "+-*/^%") {
		return Result{}
	}

	evalExpr := strings.ReplaceAll(expr, "^", "**")
	compiled, err := govaluate.NewEvaluableExpression(evalExpr)
	if err != nil {
		return Result{}
	}

	value, err := compiled.Evaluate(nil)
	if err != nil {
		return Result{}
	}

	num, ok := value.(float64)
	if !ok {
		return Result{}
	}

	return Result{
		Solved:   true,
		Solution: fmt.Sprintf("%s = %s", expr, fmtNum(num)),
		Steps:    []string{fmt.Sprintf("Evaluate the expression: %s = %s", expr, fmtNum(num))},
	}
}

func parsePolynomial(expr string) ([]term, string, bool) {
	expr = strings.Trim(expr, "()=")
	if expr == "" {
		return nil, "", false
	}

	variable := ""
	for _, r := range expr {
		if r >= 'a' && r <= 'z' {
			if variable != "" && string(r) != variable {
				return nil, "", false
			}
			variable = string(r)
		}
	}
	if variable == "" {
		return nil, "", false
	}

	var terms []term
	for _, raw := range splitTerms(expr) {
		m := polyTerm.FindStringSubmatch(raw)
		if m == nil {
			return nil, "", false
		}

		coeff := parseCoeff(m[1])
		power := 0
		if m[2] != "" {
			power = 1
			if m[3] != "" {
				power, _ = strconv.Atoi(m[3])
			}
		}
		terms = append(terms, term{coeff: coeff, power: power})
	}

	sort.Slice(terms, func(i, j int) bool { return terms[i].power > terms[j].power })
	return terms, variable, len(terms) > 0
}

func splitTerms(expr string) []string {
	var parts []string
	start := 0
	for i, r := range expr {
		if i > 0 && (r == '+' || r == '-') {
			parts = append(parts, expr[start:i])
			start = i
		}
	}
	parts = append(parts, expr[start:])
	return parts
}

func formatPolynomial(terms []term, variable string) string {
	var b strings.Builder
	for _, t := range terms {
		if t.coeff == 0 {
			continue
		}

		s := ""
		switch {
		case t.power == 0:
			s = fmtNum(t.coeff)
		case t.coeff == 1:
			s = variable
		case t.coeff == -1:
			s = "-" + variable
		default:
			s = fmtNum(t.coeff) + variable
		}
		if t.power > 1 {
			s += "^" + strconv.Itoa(t.power)
		}

		if b.Len() > 0 && !strings.HasPrefix(s, "-") {
			b.WriteString(" + ")
		} else if b.Len() > 0 {
			b.WriteString(" - ")
			s = strings.TrimPrefix(s, "-")
		}
		b.WriteString(s)
	}
	return b.String()
}

func parseCoeff(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "", "+":
		return 1
	case "-":
		return -1
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func fmtNum(v float64) string {
	if isInteger(v) {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func fmtCoeff(v float64) string {
	switch v {
	case 1:
		return ""
	case -1:
		return "-"
	}
	return fmtNum(v)
}

func fmtSigned(v float64) string {
	if v < 0 {
		return "- " + fmtNum(-v)
	}
	return "+ " + fmtNum(v)
}

// fmtSignedRoot renders a root r as the factor "(x - r)" sign.
func fmtSignedRoot(r float64) string {
	if r < 0 {
		return "+ " + fmtNum(-r)
	}
	return "- " + fmtNum(r)
}

func isInteger(v float64) bool {
	return math.Abs(v-math.Round(v)) < 1e-9
}
