package overgrid

import (
	"fmt"
	"os"
)

// globalDebug enables stderr diagnostics for discarded stale completions,
// decode failures, and chart-renderer faults.
var globalDebug bool

// SetDebugMode enables or disables stderr diagnostics package-wide.
func SetDebugMode(enabled bool) {
	globalDebug = enabled
}

// debugf prints a diagnostic line to stderr when debug mode is on.
func debugf(format string, args ...any) {
	if globalDebug {
		_, _ = fmt.Fprintf(os.Stderr, "[overgrid] "+format+"\n", args...)
	}
}
