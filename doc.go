// Package stepsaga runs a work item through an ordered list of steps and,
// when a step fails, undoes the steps that already succeeded.
//
// A saga here is sequential: steps run one at a time in the order given, and
// the first failure stops the forward phase. Every successful step is pushed
// onto the run's executed log, so compensation visits them newest first.
// Compensations are retried with exponential backoff; one that fails on every
// attempt is written to a DeadLetterStore and the sweep moves on.
//
// Overview
//
// 1. Define your steps:
//   - Implement Step, or wrap an execute and a compensate function with
//     NewStepFunc.
//   - Return Succeeded or Failed from both. A returned error or a panic is
//     treated as a failed result.
//   - A step may report a CompletedStatus marker that the work item takes
//     after the step succeeds.
//
// 2. Optionally collect them in a StepRegistry and Resolve a list by name.
//
// 3. Create a Coordinator with NewCoordinator, configuring it with WithLogger,
// WithMetrics, WithCompensationPolicy, WithDeadLetterStore and
// WithStepTimeout as needed.
//
// 4. Run a work item:
//   - Submit (or NewWorkItem) creates a PENDING item.
//   - Coordinator.Run returns it in COMPLETED, FAILED or
//     COMPENSATION_COMPLETED.
//   - Coordinator.Execute additionally returns the Journal and the dead
//     letters of the run.
//   - A Dispatcher runs many items concurrently.
//
// DescribePlan renders a step list as a Graphviz graph. LinearOrchestrator
// is a smaller alternative for sequences of yes/no checks that share one
// compensation hook.
package stepsaga
