// Package steward is a privileged host administration console that runs
// package updates, snapshots and firewall changes as external commands and
// streams their console output to live observers.
package steward

// Version is the steward release version.
const Version = "0.3.0"
