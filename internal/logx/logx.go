// Package logx wires every long-lived component in this module to one
// shared github.com/charmbracelet/log root logger, generalizing the
// teacher's per-component charmbracelet/log groups
// (goby::acomms::amac::N, "driver", "queue_manager", ...) into a single
// place that also owns optional file rotation for long-running shore
// daemons.
package logx

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/natefinch/lumberjack"
)

var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05",
})

// Named returns a sub-logger scoped to component, mirroring the
// log.Default().With("component", name) pattern already used throughout
// internal/mac, internal/queue and internal/driver.
func Named(component string) *log.Logger {
	return root.With("component", component)
}

// Configure points the root logger at the given level and, when
// rotatePath is non-empty, tees output through lumberjack so
// cmd/acommsd and cmd/iridium-shore can run unattended for days without
// an operator rotating logs by hand. rotatePath is typically supplied
// by internal/config's LoggingConfig.
func Configure(level log.Level, rotatePath string, maxSizeMB, maxBackups, maxAgeDays int) {
	root.SetLevel(level)

	var w io.Writer = os.Stderr
	if rotatePath != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   rotatePath,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		})
	}
	root.SetOutput(w)
}

// SetLevel adjusts verbosity without touching the output destination.
func SetLevel(level log.Level) { root.SetLevel(level) }
