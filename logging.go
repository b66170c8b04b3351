package main

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	coreLog  *logrus.Entry
	netLog   *logrus.Entry
	audioLog *logrus.Entry
	// uiLog prints the lines the call engine addresses to the user.
	uiLog   *logrus.Entry
	logFile *lumberjack.Logger
)

func init() {
	// usable before initLogging, e.g. when the settings file cannot be parsed
	fallback := logrus.NewEntry(logrus.StandardLogger())
	coreLog, netLog, audioLog, uiLog = fallback, fallback, fallback, fallback
}

// initLogging configures one logger per subsystem, each writing to the console and a rotated file.
func initLogging(cfg *ini.File) error {
	sec := cfg.Section("logging")

	consoleMin := toLogrusLevel(sec.Key("console_min_level").MustInt(0))
	fileMin := toLogrusLevel(sec.Key("file_min_level").MustInt(0))

	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("voicelink.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 1,
	}

	// the once-per-second worker load lines can be noisy
	var uiFilter func(*logrus.Entry) bool
	if !sec.Key("load_reports").MustBool(true) {
		uiFilter = isLoadReport
	}

	coreLog = newLogger("core", toLogrusLevel(sec.Key("core").MustInt(2)), consoleMin, fileMin, logFile, nil)
	netLog = newLogger("net", toLogrusLevel(sec.Key("net").MustInt(2)), consoleMin, fileMin, logFile, nil)
	audioLog = newLogger("audio", toLogrusLevel(sec.Key("audio").MustInt(2)), consoleMin, fileMin, logFile, nil)
	uiLog = newLogger("call", toLogrusLevel(sec.Key("call").MustInt(2)), consoleMin, fileMin, logFile, uiFilter)
	return nil
}

// closeLogging flushes and closes log files.
func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// writerHook writes logs to the specified writer for provided levels. Entries for which Skip
// returns true are not written.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	Skip      func(*logrus.Entry) bool
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	if h.Skip != nil && h.Skip(e) {
		return nil
	}
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level, consoleMin, fileMin logrus.Level, file io.Writer, skip func(*logrus.Entry) bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: os.Stdout, LogLevels: availableLevels(consoleMin), Skip: skip})
	logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin), Skip: skip})
	return logger.WithField("name", name)
}

// availableLevels lists the levels at least as severe as min. Levels order from panic (0) to trace.
func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

// toLogrusLevel maps the ini scale (0 trace .. 5 fatal, 6 off) to logrus.
func toLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}

// isLoadReport matches the once-per-second worker load lines.
func isLoadReport(e *logrus.Entry) bool {
	return strings.HasPrefix(e.Message, "Load rec:") || strings.HasPrefix(e.Message, "Load ply:")
}
