// Package simulation predicts the impact of a change against historical
// traffic and executes queued simulation runs.
package simulation

import (
	"math"
	"strconv"
	"strings"

	"changeguard/internal/domain"
)

// adjustmentRule raises the predicted failure rate for items whose key it
// matches. The table is maintained independently of the risk rules.
type adjustmentRule struct {
	name string
	// matches receives the upper-cased item key.
	matches func(upperKey string) bool
	// onDecrease applies when both values parse and the new value is lower.
	onDecrease float64
	// onUnparsable applies when either value is not a number.
	onUnparsable float64
}

var adjustmentRules = []adjustmentRule{
	{
		name:         "rate_limit_tightening",
		matches:      func(k string) bool { return strings.Contains(k, "RATE_LIMIT") || strings.Contains(k, "RATELIMIT") },
		onDecrease:   0.05,
		onUnparsable: 0.02,
	},
	{
		name:         "timeout_reduction",
		matches:      func(k string) bool { return strings.Contains(k, "TIMEOUT") },
		onDecrease:   0.03,
		onUnparsable: 0.01,
	},
}

// Assumptions disclosed with every report.
var reportAssumptions = []string{
	"Rule-based simulation using in-repo sample traffic",
	"RATE_LIMIT tightening increases 429 probability",
	"TIMEOUT reduction increases 5xx probability",
}

// BuiltinTraffic is the sample used when the configured source is unavailable.
func BuiltinTraffic() []domain.TrafficRecord {
	return []domain.TrafficRecord{
		{Endpoint: "/login", Status: 200, LatencyMS: 120},
		{Endpoint: "/login", Status: 200, LatencyMS: 110},
		{Endpoint: "/login", Status: 429, LatencyMS: 80},
	}
}

// Simulate builds a report for c against traffic. It is deterministic and
// performs no I/O.
func Simulate(c *domain.Change, traffic []domain.TrafficRecord) *domain.SimulationReport {
	base := baselineFailRate(traffic)
	predicted := base

	for _, item := range c.Items {
		key := strings.ToUpper(item.Key)
		for _, rule := range adjustmentRules {
			if rule.matches(key) {
				predicted += rule.adjust(item)
			}
		}
	}
	predicted = math.Min(predicted, 1.0)

	return &domain.SimulationReport{
		BaseFailRate:            round4(base),
		PredictedFailRate:       round4(predicted),
		PredictedLatencyDeltaMS: 0,
		SampleSize:              len(traffic),
		Assumptions:             append([]string(nil), reportAssumptions...),
	}
}

func (r adjustmentRule) adjust(item domain.ChangeItem) float64 {
	oldNum, errOld := strconv.ParseFloat(strings.TrimSpace(item.OldValue), 64)
	newNum, errNew := strconv.ParseFloat(strings.TrimSpace(item.NewValue), 64)
	if errOld != nil || errNew != nil {
		return r.onUnparsable
	}
	if newNum < oldNum {
		return r.onDecrease
	}
	return 0
}

// baselineFailRate is the share of records with status >= 400.
func baselineFailRate(traffic []domain.TrafficRecord) float64 {
	if len(traffic) == 0 {
		return 0
	}
	failed := 0
	for _, rec := range traffic {
		if rec.Status >= 400 {
			failed++
		}
	}
	return float64(failed) / float64(len(traffic))
}

// round4 rounds the exact binary value to 4 decimals, ties to even.
func round4(f float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 4, 64), 64)
	return v
}
