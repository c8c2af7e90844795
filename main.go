package main

import (
	"context"
	"log"
	"os"

	"github.com/Programmerfd54/rocket-shelduer-sub002/cmd"
	"github.com/Programmerfd54/rocket-shelduer-sub002/config"
	ufcli "github.com/urfave/cli/v3"
)

// make version a variable so the build system can inject it
var version = "unknown"

func main() {
	serverCmd := cmd.ServerCli()

	runCmd := &ufcli.Command{
		Name:     "rocket-shelduer",
		Usage:    "schedule messages into Rocket.Chat workspaces",
		Version:  version,
		Flags:    config.Flags(),
		Action:   serverCmd.Action,
		Commands: []*ufcli.Command{serverCmd, cmd.ClientCli()},
	}

	if err := runCmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
