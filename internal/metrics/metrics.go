// Package metrics provides application-level counters using stdlib expvar.
// Counters are automatically exported on the /debug/vars HTTP endpoint
// when net/http/pprof is imported in the main binary.
package metrics

import "expvar"

// Operation counters.
var (
	StoreTotal      = expvar.NewInt("engram_store_total")
	RecallTotal     = expvar.NewInt("engram_recall_total")
	AccessTotal     = expvar.NewInt("engram_access_total")
	ForgetTotal     = expvar.NewInt("engram_forget_total")
	EvictionRuns    = expvar.NewInt("engram_eviction_runs_total")
	PhasesAdvanced  = expvar.NewInt("engram_phases_advanced_total")
	RestoresTotal   = expvar.NewInt("engram_restores_total")
	IntegrityIssues = expvar.NewInt("engram_integrity_issues_total")
	IntegrityFixes  = expvar.NewInt("engram_integrity_fixes_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
