// Package systemd reports service state to the systemd manager when the
// process runs as a Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. The zero value is ready to use.
type Notifier struct {
	// notify is swapped in tests.
	notify func(state string) (bool, error)
}

func (n *Notifier) send(state string) (bool, error) {
	if n != nil && n.notify != nil {
		return n.notify(state)
	}
	return daemon.SdNotify(false, state)
}

// Ready tells systemd that startup finished.
func (n *Notifier) Ready() (bool, error) { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() (bool, error) { return n.send(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) (bool, error) {
	return n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx is done.
// It returns immediately when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() error) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return err
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && healthy() != nil {
				continue
			}
			_, _ = n.send(daemon.SdNotifyWatchdog)
		}
	}
}
