package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rendis/geosweep/internal/logging"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "geosweep",
		Usage:   "adaptive Google Places sweeper for local business lead lists",
		Version: version,
		Commands: []*cli.Command{
			scanCommand(),
			exportCommand(),
			{
				Name:  "version",
				Usage: "Show version",
				Action: func(*cli.Context) error {
					fmt.Println("geosweep " + version)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Fatalf("%v", err)
	}
}
