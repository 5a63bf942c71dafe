package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"stratoprobe/internal/camera"
	"stratoprobe/internal/config"
	"stratoprobe/internal/fona"
	"stratoprobe/internal/gpio"
	"stratoprobe/internal/gps"
	"stratoprobe/internal/logic"
	"stratoprobe/internal/logs"
	"stratoprobe/internal/serial"
)

const version = "1.0.0"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "strato: %v\n", err)
		os.Exit(1)
	}

	set, err := logs.Init(cfg.DataDir, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "strato: %v\n", err)
		os.Exit(1)
	}
	defer set.Close()

	set.Main.Infof("StratoProbe %s starting.", version)
	if cfg.Debug {
		set.Main.Warn("Debug mode enabled: verbose logs, no host power-off.")
	}

	for _, dir := range []string{"video", "img"} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, dir), 0o755); err != nil {
			fatal(set, cfg, fmt.Errorf("create data directories: %w", err))
		}
	}

	store := logic.NewStore(cfg.DataDir)
	last, hasPrior, err := store.Last()
	if err != nil {
		fatal(set, cfg, err)
	}
	if !hasPrior {
		if err := store.Save(logic.Init); err != nil {
			fatal(set, cfg, err)
		}
	}

	probe, err := buildProbe(cfg, set)
	if err != nil {
		fatal(set, cfg, err)
	}

	machine := logic.NewMachine(probe, store)
	if hasPrior && last != logic.Init {
		err = machine.Resume(last)
	} else {
		err = machine.Run(logic.Init)
	}
	if err != nil {
		fatal(set, cfg, err)
	}
	set.Main.Info("Flight complete.")
}

// buildProbe wires the real hardware backends: character-device GPIO and
// termios serial ports.
func buildProbe(cfg config.Config, set *logs.Set) (logic.Probe, error) {
	probe := logic.Probe{Config: cfg, Log: set.Main, Telem: set.Telemetry}

	if cfg.GPS.Enable {
		pin, err := gpio.Open(cfg.GPS.PowerPin, "gps-power")
		if err != nil {
			return probe, fmt.Errorf("open GPS power pin: %w", err)
		}
		probe.GPS = gps.New(cfg.GPS, pin, serial.Open, set.GPS)
	}

	power, err := gpio.Open(cfg.Fona.PowerPin, "fona-power")
	if err != nil {
		return probe, fmt.Errorf("open FONA power pin: %w", err)
	}
	status, err := gpio.Open(cfg.Fona.StatusPin, "fona-status")
	if err != nil {
		return probe, fmt.Errorf("open FONA status pin: %w", err)
	}
	probe.Modem = fona.New(cfg.Fona, cfg.Battery, power, status, serial.Open, set.GSM)

	probe.Camera = camera.New(cfg.Video, cfg.Picture, cfg.DataDir, set.Camera)
	return probe, nil
}

// fatal logs the full cause chain and powers the host off. In debug mode it
// exits instead so a bench run can be inspected.
func fatal(set *logs.Set, cfg config.Config, err error) {
	set.Main.Error(logs.ErrorChain(err, "Fatal error"))
	set.Close()

	if cfg.Debug {
		os.Exit(1)
	}
	if err := logic.PowerOff(); err != nil {
		fmt.Fprintf(os.Stderr, "strato: power off: %v\n", err)
		os.Exit(1)
	}
}
