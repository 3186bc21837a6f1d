// The bookcabinet daemon: wires the hardware drivers, the catalogue store,
// the library client and the transaction services, then serves the HTTP
// and WebSocket facade.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/backup"
	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
	"bookcabinet/pkg/irbis"
	"bookcabinet/pkg/logger"
	"bookcabinet/pkg/motion"
	"bookcabinet/pkg/motor"
	"bookcabinet/pkg/rfid"
	"bookcabinet/pkg/sensor"
	"bookcabinet/pkg/server"
	"bookcabinet/pkg/service"
	"bookcabinet/pkg/servo"
	"bookcabinet/pkg/store"
	"bookcabinet/pkg/telegram"
	"bookcabinet/pkg/watchdog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFile, cfg.Debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	log.Info("bookcabinet starting",
		zap.Bool("mock_mode", cfg.MockMode),
		zap.Bool("irbis_mock", cfg.Irbis.Mock))

	// GPIO backend: hardware header or in-memory mock.
	backend, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	manager := gpio.NewManager(backend)
	if err := manager.Init(); err != nil {
		return fmt.Errorf("gpio: %w", err)
	}
	defer manager.Teardown()

	calStore, err := calibration.Load(cfg.CalibrationPath)
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	sensors, err := sensor.New(manager, cfg.Pins)
	if err != nil {
		return err
	}
	motors, err := motor.New(manager, cfg.Pins, sensors, calStore.Get())
	if err != nil {
		return err
	}
	servos, err := servo.New(manager, cfg.Pins, servo.DefaultConfig(), calStore.Get())
	if err != nil {
		return err
	}

	b := bus.New()
	ctrl := motion.New(motors, servos, sensors, calStore, b,
		logger.Component(log, "motion"), cfg.Timeouts)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	st.LogSystem("INFO", "main", "system starting")

	// Remote library connector: real TCP client or the in-memory mock.
	var connector irbis.Connector
	if cfg.Irbis.Mock {
		connector = irbis.NewMock(cfg.Irbis.ReadersDatabase, cfg.Irbis.Database)
	} else {
		connector = irbis.NewClient(cfg.Irbis, logger.Component(log, "irbis"))
	}
	library := irbis.NewService(connector, cfg.Irbis, logger.Component(log, "irbis"))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := library.Connect(ctx); err != nil {
		log.Warn("irbis connect failed; continuing offline", zap.Error(err))
	}
	cancel()
	defer library.Disconnect(context.Background())

	// Card readers. In mock mode both sources are injectable; on hardware
	// the UHF panel reader attaches over serial and the cabinet degrades
	// to UHF-only when the NFC bridge is absent.
	nfcSource, uhfSource, bookReader := openReaders(cfg, log)
	reader := rfid.NewUnifiedReader(nfcSource, uhfSource,
		cfg.RFID.PollInterval, time.Duration(cfg.RFID.DebounceMS)*time.Millisecond,
		logger.Component(log, "rfid"))
	reader.SetObserver(func(uid string, source rfid.Source) {
		b.Publish(bus.CardDetected{UID: uid, Source: string(source)})
	})
	reader.Start()
	defer reader.Stop()

	notifier := telegram.New(cfg.Telegram, logger.Component(log, "telegram"))

	var scanner service.BookScanner
	if bookReader != nil {
		scanner = bookReader
	}

	services := service.New(service.Config{
		Store:    st,
		Motion:   ctrl,
		Library:  library,
		Bus:      b,
		Log:      logger.Component(log, "service"),
		Scanner:  scanner,
		Notifier: notifierOrNil(notifier),
		LoanDays: cfg.Irbis.LoanDays,
	})

	wd := watchdog.New(ctrl, b, logger.Component(log, "watchdog"), 2*time.Second)
	wd.Start()
	defer wd.Stop()

	// Mock physics: the begin switches track the tracked position and the
	// tray switches track the tray direction line, so homing and the
	// safe-move checks behave the way the real cabinet does.
	if mock, ok := backend.(*gpio.Mock); ok {
		pins := cfg.Pins
		mock.ReadHook = func(pin int) (int, bool) {
			switch pin {
			case pins.SensorXBegin:
				x, _, _ := motors.Position()
				return boolLevel(x <= 0), true
			case pins.SensorYBegin:
				_, y, _ := motors.Position()
				return boolLevel(y <= 0), true
			case pins.SensorTrayBegin:
				return boolLevel(mock.Level(pins.TrayDir) == gpio.Low), true
			case pins.SensorTrayEnd:
				return boolLevel(mock.Level(pins.TrayDir) == gpio.High), true
			}
			return 0, false
		}
	}

	wizard := calibration.NewWizard(calStore, ctrl)
	backups := backup.New(cfg.BackupDir, cfg.DatabasePath, cfg.CalibrationPath)

	srv := server.New(server.Deps{
		Config:   cfg,
		Store:    st,
		Motion:   ctrl,
		Services: services,
		Cal:      calStore,
		Wizard:   wizard,
		Library:  library,
		Reader:   reader,
		Backups:  backups,
		Servos:   servos,
		Bus:      b,
		Log:      logger.Component(log, "server"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
		ctrl.Stop()
		st.LogSystem("INFO", "main", "system stopping")
		return nil
	}
}

// notifierOrNil keeps the Notifier interface nil when telegram is off, so
// the service layer's nil check works.
func notifierOrNil(n *telegram.Notifier) service.Notifier {
	if n == nil {
		return nil
	}
	return n
}

func boolLevel(b bool) int {
	if b {
		return gpio.High
	}
	return gpio.Low
}
