// Package commands owns the chat command surface.
//
// Ownership boundary:
// - parsing prefixed chat messages into commands
//
// - authorization and argument checks
//
// - mapping operation results and errors to user-facing replies
//
// Nothing here depends on a specific chat platform.
package commands
