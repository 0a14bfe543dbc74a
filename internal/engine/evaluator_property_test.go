package engine

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"thesis-tracker/internal/models"
)

// Property: evaluation always yields exactly one valid status and, given a
// price, a non-nil progress. The ordered rule list can never fall through
// to an undefined state.
func TestProperty_EvaluationAlwaysYieldsValidStatus(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	priceGen := gen.Float64Range(0.01, 10000.0)

	properties.Property("valid status and progress for any level combination", prop.ForAll(
		func(entry, target, stop, current float64) bool {
			ev := NewEvaluator(DefaultEvalConfig())
			thesis := thesisWith(models.Float(entry), models.Float(target), models.Float(stop))
			got := ev.Evaluate(thesis, models.Float(current))
			return got.Status.Valid() && got.ProgressPercent != nil
		},
		priceGen, priceGen, priceGen, priceGen,
	))

	properties.TestingRun(t)
}

// Property: a price at or above a real target (target above entry) is
// always achieved, regardless of where the stop sits. Achieved is the
// first rule and cannot be shadowed.
func TestProperty_TargetReachedIsAlwaysAchieved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("current >= target implies achieved", prop.ForAll(
		func(entry, headroom, above, stop float64) bool {
			target := entry + headroom
			current := target + above
			ev := NewEvaluator(DefaultEvalConfig())
			thesis := thesisWith(models.Float(entry), models.Float(target), models.Float(stop))
			got := ev.Evaluate(thesis, models.Float(current))
			return got.Status == models.StatusAchieved
		},
		gen.Float64Range(1, 5000),
		gen.Float64Range(0.01, 1000),
		gen.Float64Range(0, 1000),
		gen.Float64Range(0.01, 5000),
	))

	properties.TestingRun(t)
}

// Property: a stop exactly equal to entry never produces a breach, no
// matter the current price. The ambiguous configuration is a documented
// no-op for the breach rule.
func TestProperty_StopEqualEntryNeverBreaches(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("stop == entry disables the breach rule", prop.ForAll(
		func(entry, target, current float64) bool {
			ev := NewEvaluator(DefaultEvalConfig())
			thesis := thesisWith(models.Float(entry), models.Float(target), models.Float(entry))
			got := ev.Evaluate(thesis, models.Float(current))
			return got.Status != models.StatusBreached
		},
		gen.Float64Range(1, 5000),
		gen.Float64Range(1, 10000),
		gen.Float64Range(0.01, 10000),
	))

	properties.TestingRun(t)
}

// Property: the clamped progress is always within [0, 100] while the raw
// progress is preserved for rule logic.
func TestProperty_ClampedProgressWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	priceGen := gen.Float64Range(0.01, 10000.0)

	properties.Property("clamp stays in [0,100]", prop.ForAll(
		func(entry, target, current float64) bool {
			ev := NewEvaluator(DefaultEvalConfig())
			thesis := thesisWith(models.Float(entry), models.Float(target), nil)
			got := ev.Evaluate(thesis, models.Float(current))
			clamped := got.ClampedProgress()
			return clamped >= 0 && clamped <= 100
		},
		priceGen, priceGen, priceGen,
	))

	properties.TestingRun(t)
}
