// Package manager implements bot management operations on top of the
// registry, the supervisor, the installer, and the hosted files store.
//
// Ownership boundary:
// - add/list/remove/start/stop of registered bots
//
// - hosted file upload and listing
//
// - re-launching registered bots after a restart
//
// All operations are serialized. The registry file is the only persisted
// state; running processes are reconstructed by Restore.
package manager
