// Package scheduler triggers periodic maintenance jobs (fanout cycles, lock
// and session sweeps) from cron expressions or fixed intervals.
//
// A job never overlaps with itself: a trigger that fires while the previous
// run is still in flight is skipped and counted.
package scheduler
