// Package logging holds the process-wide logger.
package logging

import (
	"fmt"
	"os"
	"time"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Components derive their own with
// L.With("component", name).
var L = clog.NewWithOptions(os.Stderr, clog.Options{
	Prefix:          "clockode",
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Level:           clog.InfoLevel,
})

// SetLevel parses level ("debug", "info", "warn", "error", "fatal") and
// applies it to L.
func SetLevel(level string) error {
	lvl, err := clog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	L.SetLevel(lvl)
	return nil
}

// Component returns a child logger tagged with the component name. The
// child copies the current level, so derive it after SetLevel.
func Component(name string) *clog.Logger {
	return L.With("component", name)
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...any) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...any) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...any) {
	L.Warn(fmt.Sprintf(format, v...))
}
