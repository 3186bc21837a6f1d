//go:build !linux

package main

import (
	"go.uber.org/zap"

	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
)

// openBackend always mocks on non-Linux hosts; the real header only
// exists on the Raspberry Pi.
func openBackend(cfg *config.Config, log *zap.Logger) (gpio.Backend, error) {
	if !cfg.MockMode {
		log.Warn("hardware gpio requested on a non-linux host; using mock")
	}
	return gpio.NewMock(), nil
}
