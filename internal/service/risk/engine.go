// Package risk scores changes with an ordered table of deterministic rules
// and persists the resulting assessments.
package risk

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"changeguard/internal/domain"
)

// Effect is what a fired rule contributes to an assessment.
type Effect struct {
	Points    int
	Component string
	Endpoint  string
	Reason    string
}

// changeRule applies once per assessment.
type changeRule struct {
	name  string
	apply func(c *domain.Change) (Effect, bool)
}

// itemRule applies to every item, in item order.
type itemRule struct {
	name  string
	apply func(item domain.ChangeItem) (Effect, bool)
}

// Rules fire in this order: leadingRules, then itemRules per item, then
// trailingRules. The resulting reason list follows the same order.
var (
	leadingRules = []changeRule{
		{name: "prod_environment", apply: prodEnvironment},
	}

	itemRules = []itemRule{
		keywordRule("auth_login", 40, "auth", "/login", "%s affects auth/login (+40)",
			func(k string) bool { return strings.HasPrefix(k, "LOGIN_") || strings.Contains(k, "AUTH") }),
		keywordRule("payments", 45, "payments", "/payments", "%s affects payments (+45)",
			func(k string) bool { return strings.Contains(k, "PAYMENT") }),
		keywordRule("timeout", 15, "performance", "", "%s changes timeout (+15)",
			func(k string) bool { return strings.Contains(k, "TIMEOUT") }),
		keywordRule("rate_limiting", 20, "rate-limiting", "", "%s changes rate limiting (+20)",
			func(k string) bool { return strings.Contains(k, "RATE_LIMIT") || strings.Contains(k, "RATELIMIT") }),
		{name: "magnitude", apply: magnitude},
	}

	trailingRules = []changeRule{
		{name: "item_count", apply: itemCount},
	}
)

// Assess scores c. It has no side effects: the same change, including item
// order, always yields the same score, level and reasons. The returned
// assessment has no ID or timestamp.
func Assess(c *domain.Change) *domain.RiskAssessment {
	var (
		score      int
		reasons    = []string{}
		components = map[string]struct{}{}
		endpoints  = map[string]struct{}{}
	)
	record := func(e Effect) {
		score += e.Points
		if e.Reason != "" {
			reasons = append(reasons, e.Reason)
		}
		if e.Component != "" {
			components[e.Component] = struct{}{}
		}
		if e.Endpoint != "" {
			endpoints[e.Endpoint] = struct{}{}
		}
	}

	for _, rule := range leadingRules {
		if e, ok := rule.apply(c); ok {
			record(e)
		}
	}
	for _, item := range c.Items {
		for _, rule := range itemRules {
			if e, ok := rule.apply(item); ok {
				record(e)
			}
		}
	}
	for _, rule := range trailingRules {
		if e, ok := rule.apply(c); ok {
			record(e)
		}
	}

	score = max(domain.MinRiskScore, min(score, domain.MaxRiskScore))

	return &domain.RiskAssessment{
		ChangeID: c.ID,
		Score:    score,
		Level:    domain.RiskLevelForScore(score),
		BlastRadius: domain.BlastRadius{
			AffectedComponents: sortedKeys(components),
			AffectedEndpoints:  sortedKeys(endpoints),
			Notes:              []string{},
		},
		Reasoning: reasons,
	}
}

func prodEnvironment(c *domain.Change) (Effect, bool) {
	if c.Environment != domain.EnvironmentProd {
		return Effect{}, false
	}
	return Effect{Points: 20, Reason: "environment: prod (+20)"}, true
}

func itemCount(c *domain.Change) (Effect, bool) {
	if len(c.Items) < 3 {
		return Effect{}, false
	}
	return Effect{Points: 10, Reason: "Change includes 3+ items (+10)"}, true
}

// keywordRule matches the upper-cased item key. The reason names the key as
// the caller wrote it.
func keywordRule(name string, points int, component, endpoint, reasonFormat string, match func(upperKey string) bool) itemRule {
	return itemRule{
		name: name,
		apply: func(item domain.ChangeItem) (Effect, bool) {
			if !match(strings.ToUpper(item.Key)) {
				return Effect{}, false
			}
			return Effect{
				Points:    points,
				Component: component,
				Endpoint:  endpoint,
				Reason:    fmt.Sprintf(reasonFormat, item.Key),
			}, true
		},
	}
}

// magnitude scores numeric changes by relative size. Non-numeric values and
// changes under 10% contribute nothing.
func magnitude(item domain.ChangeItem) (Effect, bool) {
	oldNum, err := parseNumber(item.OldValue)
	if err != nil {
		return Effect{}, false
	}
	newNum, err := parseNumber(item.NewValue)
	if err != nil {
		return Effect{}, false
	}

	if oldNum == 0 {
		return Effect{Points: 5, Reason: fmt.Sprintf("Magnitude changed from 0 to %s (+5)", formatNumber(newNum))}, true
	}

	delta := math.Abs(newNum-oldNum) / math.Abs(oldNum)
	var (
		points int
		size   string
	)
	switch {
	case delta >= 0.5:
		points, size = 25, "large"
	case delta >= 0.2:
		points, size = 15, "moderate"
	case delta >= 0.1:
		points, size = 8, "small"
	default:
		return Effect{}, false
	}
	return Effect{
		Points: points,
		Reason: fmt.Sprintf("Magnitude change is %s (%s→%s) (+%d)", size, formatNumber(oldNum), formatNumber(newNum), points),
	}, true
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// formatNumber renders a parsed value as a decimal that always carries a
// fractional part ("30.0", "0.25"), switching to exponent form for very
// large or very small magnitudes.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs >= 1e16 || (abs != 0 && abs < 1e-4) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
