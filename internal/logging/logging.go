// Package logging is the leveled logger used across bboxtool. Lines look like
// "2024/01/02 15:04:05 [WARN] message".
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level is a log severity; messages below the current level are dropped
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelTags = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
	return levelTags[l]
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case
func ParseLevel(s string) (Level, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn, true
	}
	for i, tag := range levelTags {
		if s == tag {
			return Level(i), true
		}
	}
	return LevelInfo, false
}

var (
	level  atomic.Int32
	logger = log.New(os.Stderr, "", log.Ldate|log.Ltime)
)

func init() { level.Store(int32(LevelInfo)) }

// SetLevel sets the level from its name and reports whether the name was
// known; an unknown name leaves the level unchanged.
func SetLevel(s string) bool {
	l, ok := ParseLevel(s)
	if ok {
		level.Store(int32(l))
	}
	return ok
}

// GetLevel returns the current level
func GetLevel() Level { return Level(level.Load()) }

// SetOutput redirects log output
func SetOutput(w io.Writer) { logger.SetOutput(w) }

func logf(l Level, format string, args ...interface{}) {
	if l < GetLevel() {
		return
	}
	logger.Printf("[%s] %s", l, fmt.Sprintf(format, args...))
}

func Debugf(format string, a ...interface{}) { logf(LevelDebug, format, a...) }
func Infof(format string, a ...interface{})  { logf(LevelInfo, format, a...) }
func Warnf(format string, a ...interface{})  { logf(LevelWarn, format, a...) }
func Errorf(format string, a ...interface{}) { logf(LevelError, format, a...) }

// TimeTrack logs how long a phase took, at debug level. Use it deferred:
//
//	defer logging.TimeTrack(time.Now(), "Load")
func TimeTrack(start time.Time, label string) {
	Debugf("%s took %s", label, time.Since(start))
}
