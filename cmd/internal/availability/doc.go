// Package availability decides whether a colaborador may start a given teste.
//
// The persisted TestAvailabilityRecord holds only raw facts (block flag, periodicity,
// last liberation, last completion and the wait-window end captured at completion time).
// Availability itself is never stored: ComputeStatus derives it from a record and the
// current instant, and every read path goes through it.
//
// Mutations are single conditional statements (or one transaction for upsert + audit)
// against the Store, so many handlers in many processes can share one backend without
// in-process locking. The package never logs and never retries; callers own both.
package availability
