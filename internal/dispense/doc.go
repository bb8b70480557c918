// Package dispense runs pour jobs on the pump bank.
//
// The Executor is the heart of the dispenser. It accepts batches of jobs,
// returns a Handle immediately, and runs jobs on background goroutines
// under two rules:
//
//   - at most Config.Concurrency pumps run at once, across all requests,
//     because the pumps share one power supply;
//   - at most one job drives a channel at any instant.
//
// Queued jobs are started first-in first-out as slots free up. A job
// whose channel is busy is skipped, not blocking the jobs behind it.
//
// A running job drives its pump forward for volume × seconds-per-ounce,
// optionally reverses for the retraction time to stop drips, then stops.
// A driver failure marks only that pour as failed.
//
// The Service layers recipes on top: it resolves a recipe into jobs,
// keeps track of in-flight handles, records history, and publishes
// progress events. Prime and Clean run every bound pump forward or in
// reverse for a fixed time through the same executor.
//
// Usage:
//
//	svc, err := dispense.NewService(cfg, driver, pumpConfigs, dispense.WithLogger(log))
//	h, manual, err := svc.Dispense(ctx, margarita, recipe.Double)
//	if err := h.Wait(ctx); err != nil { ... }
//	for _, st := range h.Snapshot() { fmt.Println(st.Description, st.Outcome) }
package dispense
