// Package logs wires the per-subsystem log files.
//
// Each subsystem (main, gps, gsm, telemetry, camera) gets its own file under
// <data>/logs, timestamped per run, so a recovered probe carries a separate
// trace for every peripheral. The main logger also mirrors to stdout.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Set holds the subsystem loggers.
type Set struct {
	Main      *logrus.Logger
	GPS       *logrus.Logger
	GSM       *logrus.Logger
	Telemetry *logrus.Logger
	Camera    *logrus.Logger

	files []*os.File
}

// Init creates <dataDir>/logs and opens one timestamped file per subsystem.
// Debug mode lowers every logger to debug level, which includes raw serial
// traffic from the drivers.
func Init(dataDir string, debug bool) (*Set, error) {
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logs: create %s: %w", dir, err)
	}

	now := time.Now().UTC().Format("2006-01-02-15-04-05")
	level := logrus.InfoLevel
	if debug {
		level = logrus.DebugLevel
	}

	s := &Set{}
	open := func(name string, mirrorStdout bool) (*logrus.Logger, error) {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", name, now))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logs: open %s: %w", path, err)
		}
		s.files = append(s.files, f)

		l := logrus.New()
		l.SetLevel(level)
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000 MST",
		})
		if mirrorStdout {
			l.SetOutput(io.MultiWriter(os.Stdout, f))
		} else {
			l.SetOutput(f)
		}
		return l, nil
	}

	var err error
	if s.Main, err = open("main", true); err != nil {
		return nil, err
	}
	if s.GPS, err = open("gps", false); err != nil {
		s.Close()
		return nil, err
	}
	if s.GSM, err = open("gsm", false); err != nil {
		s.Close()
		return nil, err
	}
	if s.Telemetry, err = open("telemetry", false); err != nil {
		s.Close()
		return nil, err
	}
	if s.Camera, err = open("camera", false); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Discard returns a Set whose loggers swallow everything. For tests.
func Discard() *Set {
	l := func() *logrus.Logger {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		return lg
	}
	return &Set{Main: l(), GPS: l(), GSM: l(), Telemetry: l(), Camera: l()}
}

// Close closes the underlying log files.
func (s *Set) Close() {
	for _, f := range s.files {
		_ = f.Close()
	}
	s.files = nil
}

// ErrorChain renders an error and every wrapped cause, one per line, so a
// fatal log entry can reconstruct the failure without hardware access.
func ErrorChain(err error, msg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n%s\n", msg, err)
	writeCauses(&b, err)
	return b.String()
}

// writeCauses follows both single-cause wrappers and joined multi-cause
// errors, so a step failure and its cleanup failure each get a line.
func writeCauses(b *strings.Builder, err error) {
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, cause := range x.Unwrap() {
			fmt.Fprintf(b, "\tcaused by: %s\n", cause)
			writeCauses(b, cause)
		}
	case interface{ Unwrap() error }:
		if cause := x.Unwrap(); cause != nil {
			fmt.Fprintf(b, "\tcaused by: %s\n", cause)
			writeCauses(b, cause)
		}
	}
}
