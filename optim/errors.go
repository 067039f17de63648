package optim

import "errors"

var (
	// ErrInfeasibleProblem means no SKU has a usable bound range, so there is
	// nothing to search.
	ErrInfeasibleProblem = errors.New("infeasible problem: no SKU has a valid bound range")

	// ErrNotInitialized is returned when the cycle loop is started before
	// InitializeAlgorithms.
	ErrNotInitialized = errors.New("optimizer not initialized")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")
)
