// Package supervisor implements the supervision engine.
//
// A Supervisor owns one worker record per configured program replica and
// drives each through its lifecycle:
//
//	STOPPED -> STARTING -> RUNNING -> EXITED
//	              |            \-> STOPPING -> STOPPED
//	              \-> BACKOFF -> STARTING ... -> FATAL
//
// All mutation happens on a single event loop fed by three sources:
// child exit events, timer expirations, and control commands, observed
// in that priority order. The launcher, the per-child reaper goroutines,
// and the control plane never touch worker records; they only post onto
// the loop's channels.
//
// Reconfiguration goes through applyConfig, which diffs the managed set
// against a new configuration and issues the minimum process operations:
// programs whose image fingerprint is unchanged keep their running
// workers across a reload.
package supervisor
