package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "chat-engine",
		Usage: "Real-time direct messaging and presence",
		Commands: []*cli.Command{
			ServeCommand(),
			TokenCommand(),
			ChatCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
