// Package install owns acquiring bot sources into the bots base directory.
//
// Ownership boundary:
// - git clone of a repository into <base>/<name>
//
// - writing an uploaded entry script
//
// - sandboxed removal of a bot directory
package install
