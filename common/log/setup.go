// Package log configures the process-wide logrus logger.
package log

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodepool/common/log/hooks"
)

// LevelEnv overrides the configured level when set.
const LevelEnv = "NODEPOOL_LOGLEVEL"

// Setup parses level, installs the context hook and sends output to stderr.
func Setup(level string) error {
	if env := os.Getenv(LevelEnv); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}
	l, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(l)
	log.SetOutput(os.Stderr)
	log.AddHook(hooks.NewContextHook())
	return nil
}
