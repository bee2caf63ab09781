// Package systemd reports supervisor readiness to systemd when running
// as a unit. Outside systemd every call is a no-op.
package systemd

import (
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the supervisor finished its initial load.
func NotifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("sd_notify failed", "error", err)
		return
	}
	if sent {
		logger.Debug("Notified systemd: ready")
	}
}

// NotifyStopping tells systemd an orderly shutdown has begun.
func NotifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("sd_notify failed", "error", err)
		return
	}
	if sent {
		logger.Debug("Notified systemd: stopping")
	}
}
