// Package genetic implements a bounded, real-valued genetic algorithm.
//
// The engine knows nothing about inventory: callers hand it a Problem (gene
// bounds, a fitness function and optional seed individuals) and receive the
// best individual found. A run walks the state machine
//
//	seed → evaluate → select → recombine → mutate → evaluate → … → done
//
// and stops on the first of: the generation cap, ConvergencePatience
// generations without improving the incumbent by more than
// ConvergenceTolerance, or the wall-clock TimeBudget.
//
// Every gene is clipped (and, with Config.Integral, rounded) into its Bound
// after each operator, so no individual ever leaves the decision space.
// Elites are copied unchanged, so the incumbent score never decreases.
// Given the same *rand.Rand seed, Config and Problem a run is reproducible;
// parallel fitness evaluation does not draw from the RNG.
package genetic
