// Package supervisor owns the in-memory table of running child bots.
//
// Ownership boundary:
// - launching the interpreter against a bot's entry script
//
// - termination on request
//
// - reaping exited children
//
// The table is not persisted. A child that exits on its own is dropped from
// the table and is not restarted.
package supervisor
