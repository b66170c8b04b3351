package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	ini "gopkg.in/ini.v1"

	"voicelink/call"
)

// Settings holds application configuration loaded from settings.ini. The [call] section can change
// while the program runs, so it is guarded by mu; the rest is fixed at startup.
type Settings struct {
	mu       sync.RWMutex
	endpoint string
	capture  bool
	playback bool

	audioBackend string
	captureFile  string
	playbackFile string
	loopCapture  bool

	historyDB string
}

// LoadSettings reads configuration from ini file and validates it.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}
	if err := s.loadCall(cfg); err != nil {
		return nil, err
	}

	sec := cfg.Section("audio")
	s.audioBackend = sec.Key("backend").In("device", []string{"device", "wav"})
	s.captureFile = sec.Key("capture_file").String()
	s.playbackFile = sec.Key("playback_file").String()
	s.loopCapture = sec.Key("loop_capture").MustBool(false)

	sec = cfg.Section("history")
	s.historyDB = sec.Key("database").String()

	return s, nil
}

// loadCall (re)reads the [call] section. On error nothing is changed.
func (s *Settings) loadCall(cfg *ini.File) error {
	sec := cfg.Section("call")
	endpoint := sec.Key("endpoint").MustString(fmt.Sprintf(":%d", call.DefaultPort))
	if _, err := call.ParseEndpoint(endpoint); err != nil {
		return fmt.Errorf("call.endpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = endpoint
	s.capture = sec.Key("capture").MustBool(true)
	s.playback = sec.Key("playback").MustBool(true)
	return nil
}

func (s *Settings) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

func (s *Settings) CaptureEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capture
}

func (s *Settings) PlaybackEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playback
}

// SetEndpoint replaces the endpoint if addr is a valid "host:port"; otherwise the old one is kept.
func (s *Settings) SetEndpoint(addr string) error {
	if _, err := call.ParseEndpoint(addr); err != nil {
		return err
	}
	s.mu.Lock()
	s.endpoint = addr
	s.mu.Unlock()
	return nil
}

func (s *Settings) SetCapture(on bool) {
	s.mu.Lock()
	s.capture = on
	s.mu.Unlock()
}

func (s *Settings) SetPlayback(on bool) {
	s.mu.Lock()
	s.playback = on
	s.mu.Unlock()
}

func (s *Settings) AudioBackend() string { return s.audioBackend }
func (s *Settings) CaptureFile() string  { return s.captureFile }
func (s *Settings) PlaybackFile() string { return s.playbackFile }
func (s *Settings) LoopCapture() bool    { return s.loopCapture }
func (s *Settings) HistoryDB() string    { return s.historyDB }

// WatchSettings reloads the [call] section whenever the file at path is written, until ctx is
// cancelled. The directory is watched so editors that replace the file are handled too.
func WatchSettings(ctx context.Context, path string, s *Settings) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := s.reload(path); err != nil {
					coreLog.Warnf("settings not reloaded: %v", err)
					continue
				}
				coreLog.Infof("settings reloaded: endpoint %s capture %t playback %t",
					s.Endpoint(), s.CaptureEnabled(), s.PlaybackEnabled())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				coreLog.Warnf("settings watcher: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *Settings) reload(path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}
	return s.loadCall(cfg)
}
