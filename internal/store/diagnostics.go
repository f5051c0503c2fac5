package store

import "fmt"

// fmtDiagnostics renders the multi-line human-readable memory report, the
// way the teacher's GetCacheInfo/GetStats helpers render a rich diagnostic
// map rather than a single formula result.
func fmtDiagnostics(hot, cold int, estBytes int64, quarantined bool, lastSave string) string {
	status := "active"
	if quarantined {
		status = "quarantined (read-only)"
	}
	return fmt.Sprintf(
		"ActionTrace store diagnostics:\n"+
			"  status:           %s\n"+
			"  hot events:       %d\n"+
			"  cold events:      %d\n"+
			"  total events:     %d\n"+
			"  estimated memory: %d bytes\n"+
			"  last snapshot:    %s\n",
		status, hot, cold, hot+cold, estBytes, lastSave,
	)
}
