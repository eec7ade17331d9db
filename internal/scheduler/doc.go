// Package scheduler decides, for every requested (position, target-stage)
// pair, whether generation work can start now, must wait, or has failed.
//
// The driver guarantees exactly one in-flight generation per position via
// the occupancy graph, advances chunks one pipeline stage at a time, and
// treats transiently missing neighbor data as a normal deferral, never as a
// crash. A single chunk's fatal failure is isolated: it becomes sticky for
// that position and every pending requester learns about it, while the rest
// of the world keeps scheduling.
//
// Deferrals and retryable failures are budgeted independently. A task may
// defer on unmet dependencies any number of times; only retryable executor
// or persistence failures count against Config.MaxRetries.
package scheduler
