// Package registry owns the persisted bot name -> directory mapping.
//
// Ownership boundary:
// - registry file format (one JSON object, name -> path)
//
// - bot name validation
//
// The file is read fully and rewritten fully on every mutation. There is no
// locking against other processes writing the same file.
package registry
