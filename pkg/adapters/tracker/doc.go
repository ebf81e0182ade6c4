// Package tracker provides issue tracker clients.
//
// Implementations:
//   - beads: drives the bd command line tool with JSON output
package tracker
