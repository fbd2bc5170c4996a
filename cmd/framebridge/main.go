// Command framebridge runs a bridge host and talks to running ones.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"framebridge/config"
	"framebridge/logging"
)

func main() {
	cmds, cmd, err := parseCommands(os.Args[1:])
	if err != nil {
		cmds.app.FatalUsage("%s\n", err)
	}

	if cmd == cmds.version.FullCommand() {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*cmds.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framebridge: %v\n", err)
		os.Exit(1)
	}
	if *cmds.debug {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framebridge: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch cmd {
	case cmds.serve.FullCommand():
		err = runServe(cfg, logger, *cmds.listen)
	case cmds.call.FullCommand():
		err = runCall(cfg, logger, cmds)
	case cmds.watch.FullCommand():
		err = runWatch(cfg, logger, *cmds.watchURL, *cmds.interval)
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", cmd), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
