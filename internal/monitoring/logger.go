// Package monitoring carries the process-wide diagnostic logger used by the
// library packages. Binaries keep the default; tests redirect or mute it.
package monitoring

import "log"

// Logf is the shared diagnostic logger. Library code calls it instead of the
// log package directly so the sink can be swapped without threading a logger
// through every constructor.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// sink, which is how tests silence expected warnings.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
