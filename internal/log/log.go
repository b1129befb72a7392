// Package log wraps zerolog with a handful of typed constructors, one per
// subsystem, so call sites read the same way across the whole module:
// log.Sync("phase1").Info().Msg("...").
package log

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Init configures the process-wide output writer and level. It is safe to
// call multiple times; only the first call takes effect.
func Init(pretty bool, level zerolog.Level) {
	once.Do(func() {
		if pretty {
			cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
			logger = zerolog.New(cw).With().Timestamp().Logger().Level(level)
		} else {
			logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
		}
	})
}

func ensure() zerolog.Logger {
	once.Do(func() {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
	return logger
}

// Node returns the logger used for top-level node lifecycle events.
func Node() zerolog.Logger {
	return ensure().With().Str("module", "node").Logger()
}

// Gossip returns the logger used by the sync protocol engine, tagged with
// the sync phase or sub-operation it was created for.
func Gossip(tag string) zerolog.Logger {
	return ensure().With().Str("module", "gossip").Str("tag", tag).Logger()
}

// Sync returns the logger used by the sync manager / fallen-behind tracker.
func Sync(tag string) zerolog.Logger {
	return ensure().With().Str("module", "sync").Str("tag", tag).Logger()
}

// Consensus returns the logger used around round finalization and quorum
// bookkeeping.
func Consensus(tag string) zerolog.Logger {
	return ensure().With().Str("module", "consensus").Str("tag", tag).Logger()
}

// Freeze returns the logger used by the freeze state machine.
func Freeze() zerolog.Logger {
	return ensure().With().Str("module", "freeze").Logger()
}

// TX returns the logger used for individual event/transaction bookkeeping.
func TX(tag string) zerolog.Logger {
	return ensure().With().Str("module", "tx").Str("tag", tag).Logger()
}

// Info is a convenience passthrough to the default logger's Info level.
func Info() *zerolog.Event {
	l := ensure()
	return l.Info()
}

// Warn is a convenience passthrough to the default logger's Warn level.
func Warn() *zerolog.Event {
	l := ensure()
	return l.Warn()
}

// Fatal is a convenience passthrough to the default logger's Fatal level.
// As with zerolog, calling it terminates the process after the event is
// written - reserved for StateTransitionError/ConsensusError per §7.
func Fatal() *zerolog.Event {
	l := ensure()
	return l.Fatal()
}
