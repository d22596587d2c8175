// Package monitoring configures the daemon's log output: the process-level
// logger and the ops/diag/trace streams of each package.
package monitoring

import "log"

// Logf is the process-level logger used by the daemon itself. It defaults
// to log.Printf and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
