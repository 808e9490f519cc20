/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package trace is the leveled logger shared by every other package: a
// named SEVERE/WARNING/INFO/FINE/TRACE_INST ladder backed by logrus.
package trace

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	SEVERE     = logrus.ErrorLevel
	WARNING    = logrus.WarnLevel
	INFO       = logrus.InfoLevel
	FINE       = logrus.DebugLevel
	TRACE_INST = logrus.TraceLevel
)

var (
	once sync.Once
	log  *logrus.Logger
)

// Init sets up the package logger. Safe to call more than once; only the
// first call takes effect.
func Init() {
	once.Do(func() {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.InfoLevel)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
}

func logger() *logrus.Logger {
	if log == nil {
		Init()
	}
	return log
}

// SetLevel raises or lowers the granularity of what gets logged.
func SetLevel(level logrus.Level) {
	logger().SetLevel(level)
}

// Log writes msg at the given level. The error return exists for callers
// that want uniform error-handling across log calls; always nil in
// practice.
func Log(msg string, level logrus.Level) error {
	logger().Log(level, msg)
	return nil
}

func Error(msg string)   { logger().Error(msg) }
func Warning(msg string) { logger().Warn(msg) }
func Info(msg string)    { logger().Info(msg) }
func Fine(msg string)    { logger().Debug(msg) }
func Trace(msg string)   { logger().Log(TRACE_INST, msg) }
