package hooks

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

const modulePrefix = "nodepool/"

type contextHook struct{}

// NewContextHook tags every entry with the file:line of the logging call site.
func NewContextHook() log.Hook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "sirupsen/logrus") && !strings.HasSuffix(frame.File, "context_hook.go") {
			entry.Data["file:line"] = fmt.Sprintf("%s:%d", trimModule(frame.File), frame.Line)
			return nil
		}
		if !more {
			return nil
		}
	}
}

func trimModule(file string) string {
	if i := strings.LastIndex(file, modulePrefix); i >= 0 {
		return file[i+len(modulePrefix):]
	}
	return file
}
