package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/cli"
)

// Resource manager binary.
//	Supported commands: (see "-h" for all options)
//		serve [--host <name>]
//		sources
//		nodes [--source <name>]
//		history [node url]
//	Global flags:
//		--config [path to the YAML configuration]
//		--log_level [<error|info|debug> level and above should be logged]

func main() {
	if err := cli.New().Exec(); err != nil {
		log.Error(err)
		os.Exit(int(rmerrors.ExitCodeOf(err)))
	}
}
