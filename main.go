package main

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"

	"voicelink/audio"
	"voicelink/call"
	"voicelink/history"
)

// engine is everything a running call controller needs.
type engine struct {
	settings   *Settings
	backend    audio.Backend
	history    *history.Store
	controller *call.Controller
	console    *console
}

func loadConfig(path string) (*ini.File, *Settings, error) {
	// a missing file is fine, every key has a default
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}
	settings, err := LoadSettings(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := initLogging(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to init logging: %w", err)
	}
	coreLog.Info("settings loaded ", path)
	return cfg, settings, nil
}

func startAudio(cfg *Settings) (audio.Backend, error) {
	coreLog.Infof("starting %s audio backend", cfg.AudioBackend())
	backend, err := audio.NewBackend(audio.Options{
		Backend:      cfg.AudioBackend(),
		CaptureFile:  cfg.CaptureFile(),
		PlaybackFile: cfg.PlaybackFile(),
		LoopCapture:  cfg.LoopCapture(),
		Logger:       audioLog,
	})
	if err != nil {
		return nil, fmt.Errorf("audio backend: %w", err)
	}
	return backend, nil
}

func startHistory(cfg *Settings) (*history.Store, error) {
	if cfg.HistoryDB() == "" {
		return nil, nil
	}
	return history.Open(cfg.HistoryDB(), coreLog)
}

// startEngine wires settings, audio, history and the console into a controller.
func startEngine(configPath string) (*engine, error) {
	_, settings, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	backend, err := startAudio(settings)
	if err != nil {
		return nil, err
	}
	store, err := startHistory(settings)
	if err != nil {
		backend.Close()
		return nil, err
	}

	e := &engine{settings: settings, backend: backend, history: store, console: newConsole(uiLog)}
	opts := call.Options{
		Config:       settings,
		Backend:      backend,
		Collaborator: e.console,
		Transport:    call.NewTransport(netLog),
		Logger:       coreLog,
	}
	if store != nil {
		opts.Recorder = store
	}
	e.controller = call.NewController(opts)
	return e, nil
}

func (e *engine) close() {
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			coreLog.Warnf("closing history: %v", err)
		}
	}
	if err := e.backend.Close(); err != nil {
		coreLog.Warnf("closing audio backend: %v", err)
	}
	closeLogging()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
