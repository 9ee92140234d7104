package base

import (
	"fmt"
	"log"
	"os"
)

// Logger defines an interface for writing log messages.
type Logger interface {
	Infof(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger logs to the Go stdlib logs.
type DefaultLogger struct{}

// Infof implements the Logger.Infof interface.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// Fatalf implements the Logger.Fatalf interface.
func (DefaultLogger) Fatalf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// TabletLogger wraps a Logger and prefixes every message with the tablet id
// it concerns, so call sites stop hand-interpolating "tablet %d:" into
// every format string.
type TabletLogger struct {
	Logger
	TabletID uint64
}

// ForTablet returns l scoped to tabletID.
func ForTablet(l Logger, tabletID uint64) TabletLogger {
	return TabletLogger{Logger: l, TabletID: tabletID}
}

// Infof implements the Logger.Infof interface, prefixing the tablet id.
func (t TabletLogger) Infof(format string, args ...interface{}) {
	t.Logger.Infof("tablet %d: "+format, append([]interface{}{t.TabletID}, args...)...)
}

// Fatalf implements the Logger.Fatalf interface, prefixing the tablet id.
func (t TabletLogger) Fatalf(format string, args ...interface{}) {
	t.Logger.Fatalf("tablet %d: "+format, append([]interface{}{t.TabletID}, args...)...)
}
