// Command telemetryd streams synthetic two-channel telemetry to websocket clients.
//
//	telemetryd [--config config.yaml] [host:port]
//	telemetryd probe [--count N] [ws://host:port]
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "telemetryd:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "telemetryd",
		Usage:     "stream telemetry samples over websocket",
		ArgsUsage: "[host:port]",
		Flags:     serveFlags,
		Action:    serve,
		Commands: []*cli.Command{
			{
				Name:      "probe",
				Usage:     "connect to a server and print received samples as JSON lines",
				ArgsUsage: "[ws://host:port]",
				Flags:     probeFlags,
				Action:    probe,
			},
		},
	}
}
