// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Re-reads the configuration file and hands the result to the store.

package control

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/momentics/hioload-net/internal/logging"
)

// ReloadFile loads path and installs it. A file that fails to load or
// validate leaves the current snapshot in place.
func (cs *ConfigStore) ReloadFile(path string) error {
	cfg, err := LoadFile(path)
	if err != nil {
		return err
	}
	return cs.Set(cfg)
}

// ReloadOnSignal reloads path on every SIGHUP until stop is closed.
func (cs *ConfigStore) ReloadOnSignal(path string, stop <-chan struct{}) {
	log := logging.For("control")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-stop:
				return
			case <-sig:
				if err := cs.ReloadFile(path); err != nil {
					log.Error().Err(err).Str("path", path).Msg("config reload failed")
					continue
				}
				log.Info().Str("path", path).Msg("config reloaded")
			}
		}
	}()
}
