//go:build linux

package main

import (
	"go.uber.org/zap"

	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
)

// openBackend selects the GPIO backend: the Raspberry Pi header, or the
// in-memory mock when MOCK_MODE is set or the header is unavailable.
func openBackend(cfg *config.Config, log *zap.Logger) (gpio.Backend, error) {
	if cfg.MockMode {
		return gpio.NewMock(), nil
	}
	backend, err := gpio.OpenRPi()
	if err != nil {
		log.Warn("gpio header unavailable, falling back to mock", zap.Error(err))
		return gpio.NewMock(), nil
	}
	return backend, nil
}
