package executor

// Budget is the static CPU split between outer unit-level workers and the
// inner thread count handed to each external tool invocation. It is computed
// once per batch; there is no rebalancing while the batch runs.
type Budget struct {
	Outer int
	Inner int
}

// ComputeBudget derives the worker split from the configured outer worker
// limit, the available cores and the number of pending units.
//
// A single worker (or a single unit) gets every core for its tool threads.
// Otherwise the cores are divided across the units, and an outer limit
// beyond the core count is capped to the unit count with the surplus going
// to tool threads. The product of the two never exceeds twice the core
// count, matching the doubling the tool applies to its thread parameter.
func ComputeBudget(maxOuter, cores, units int) Budget {
	if cores < 1 {
		cores = 1
	}
	if units < 1 {
		units = 1
	}
	if maxOuter < 1 {
		maxOuter = 1
	}

	var b Budget
	switch {
	case maxOuter == 1 || units == 1:
		b = Budget{Outer: 1, Inner: cores}
	case maxOuter <= cores:
		b = Budget{Outer: maxOuter, Inner: cores / units}
	default:
		b = Budget{Outer: units, Inner: maxOuter / units}
	}

	if b.Inner < 1 {
		b.Inner = 1
	}
	if b.Outer > units {
		b.Outer = units
	}

	// Oversubscription guard.
	for b.Outer*b.Inner > cores*2 && b.Inner > 1 {
		b.Inner--
	}
	if b.Outer*b.Inner > cores*2 {
		b.Outer = cores * 2
	}
	return b
}
