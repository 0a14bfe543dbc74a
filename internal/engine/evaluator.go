// Package engine implements the thesis status and reconciliation engine:
// status evaluation, fallback price caching, and remote reconciliation.
package engine

import (
	"math"

	"thesis-tracker/internal/models"
)

// EvalConfig holds the tunable thresholds for the needs-review overlay.
type EvalConfig struct {
	// StopProximityPercent flags needs-review when progress is negative and
	// the price is within this percentage above the stop.
	StopProximityPercent float64
	// DownsidePercent flags needs-review when the drawdown from entry
	// reaches this percentage.
	DownsidePercent float64
}

// DefaultEvalConfig returns the default evaluation thresholds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		StopProximityPercent: 10.0,
		DownsidePercent:      20.0,
	}
}

// farFromStop is the distance-to-stop used when no stop is configured,
// meaning "far from danger" for the proximity rule.
const farFromStop = 1000.0

// evalInput is the resolved numeric input for one rule pass. All level
// fallbacks (entry from current, target/stop from entry) are applied before
// rules run.
type evalInput struct {
	entry    float64
	target   float64
	stop     float64
	current  float64
	progress float64
	cfg      EvalConfig
}

// statusRule is one entry in the ordered decision list. Rules are evaluated
// in order; the first rule that fires determines the status.
type statusRule struct {
	name  string
	fires func(in evalInput) bool
	out   models.Status
}

// statusRules is the status decision order. Keeping it as data makes the
// ordering and exclusivity of the rules visible and testable on their own.
var statusRules = []statusRule{
	{
		name: "achieved",
		out:  models.StatusAchieved,
		fires: func(in evalInput) bool {
			// With target collapsed onto entry (no real target set) the
			// thesis is only achieved strictly above it; a fresh thesis
			// observed at its own entry price stays on-track.
			if in.target == in.entry {
				return in.current > in.target
			}
			return in.current >= in.target
		},
	},
	{
		name: "breached",
		out:  models.StatusBreached,
		fires: func(in evalInput) bool {
			// A stop equal to entry is a meaningless configuration and
			// never triggers a breach. A stop above entry acts as an
			// upper guard (short-position / ceiling-alert semantics);
			// otherwise it is a normal downside stop.
			if in.stop == in.entry {
				return false
			}
			if in.stop > in.entry {
				return in.current >= in.stop
			}
			return in.current <= in.stop
		},
	},
	{
		name: "needs-review",
		out:  models.StatusNeedsReview,
		fires: func(in evalInput) bool {
			downsidePct := 0.0
			if in.entry != 0 {
				downsidePct = (in.entry - in.current) / in.entry * 100
			}
			distanceToStopPct := farFromStop
			if in.stop != 0 {
				distanceToStopPct = (in.current - in.stop) / in.stop * 100
			}
			if in.progress < 0 && distanceToStopPct <= in.cfg.StopProximityPercent {
				return true
			}
			return downsidePct >= in.cfg.DownsidePercent
		},
	},
}

// Evaluator derives thesis statuses from price observations.
type Evaluator struct {
	cfg   EvalConfig
	rules []statusRule
}

// NewEvaluator creates an evaluator with the given thresholds.
func NewEvaluator(cfg EvalConfig) *Evaluator {
	if cfg.StopProximityPercent == 0 {
		cfg.StopProximityPercent = DefaultEvalConfig().StopProximityPercent
	}
	if cfg.DownsidePercent == 0 {
		cfg.DownsidePercent = DefaultEvalConfig().DownsidePercent
	}
	return &Evaluator{cfg: cfg, rules: statusRules}
}

// Evaluate derives the status and raw progress for one thesis.
//
// When current is nil the prior status is carried over unchanged and the
// progress is nil; the thesis is never silently reset to on-track just
// because no price was available. Malformed inputs (NaN or infinite levels)
// degrade to on-track with nil progress instead of corrupting the pass.
func (e *Evaluator) Evaluate(t *models.Thesis, current *float64) models.Evaluation {
	if current == nil {
		return models.Evaluation{
			Symbol:          t.Symbol,
			Status:          t.Status,
			ProgressPercent: nil,
		}
	}

	price := *current
	entry := levelOr(t.Entry, price)
	target := levelOr(t.Target, entry)
	stop := levelOr(t.Stop, entry)

	if !finite(price) || !finite(entry) || !finite(target) || !finite(stop) {
		return models.Evaluation{
			Symbol:          t.Symbol,
			Status:          models.StatusOnTrack,
			ProgressPercent: nil,
		}
	}

	progress := progressPercent(entry, target, price)

	in := evalInput{
		entry:    entry,
		target:   target,
		stop:     stop,
		current:  price,
		progress: progress,
		cfg:      e.cfg,
	}

	status := models.StatusOnTrack
	for _, rule := range e.rules {
		if rule.fires(in) {
			status = rule.out
			break
		}
	}

	return models.Evaluation{
		Symbol:          t.Symbol,
		Status:          status,
		ProgressPercent: models.Float(progress),
	}
}

// EvaluateAll evaluates a batch of theses against their price observations.
// One bad thesis never blocks evaluation of the others: a panic inside a
// single evaluation is recovered and that thesis degrades to on-track with
// nil progress.
func (e *Evaluator) EvaluateAll(theses []*models.Thesis, prices map[string]*float64) []models.Evaluation {
	evals := make([]models.Evaluation, 0, len(theses))
	for _, t := range theses {
		evals = append(evals, e.evaluateSafe(t, prices[t.Symbol]))
	}
	return evals
}

func (e *Evaluator) evaluateSafe(t *models.Thesis, current *float64) (ev models.Evaluation) {
	defer func() {
		if r := recover(); r != nil {
			ev = models.Evaluation{
				Symbol:          t.Symbol,
				Status:          models.StatusOnTrack,
				ProgressPercent: nil,
			}
		}
	}()
	return e.Evaluate(t, current)
}

// progressPercent computes the raw, unclamped progress toward target.
// When target equals entry the formula would divide by zero; the progress
// collapses to 100 strictly above target and 0 at or below it.
func progressPercent(entry, target, current float64) float64 {
	if target == entry {
		if current > target {
			return 100
		}
		return 0
	}
	return (current - entry) / (target - entry) * 100
}

func levelOr(level *float64, fallback float64) float64 {
	if level != nil {
		return *level
	}
	return fallback
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
