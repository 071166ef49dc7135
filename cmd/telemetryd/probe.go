package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/e-zhydzetski/telemetry-stream/pkg/stream"
	"github.com/e-zhydzetski/telemetry-stream/pkg/xwebsocket"
)

var probeFlags = []cli.Flag{
	&cli.IntFlag{
		Name:    "count",
		Aliases: []string{"n"},
		Usage:   "stop after this many samples, 0 runs until interrupted",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Value: 5 * time.Second,
		Usage: "dial and close handshake timeout",
	},
}

func probe(c *cli.Context) error {
	url := c.Args().First()
	if url == "" {
		url = "ws://127.0.0.1:8080"
	}
	timeout := c.Duration("timeout")

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// the stream outlives ctx so an interrupt still ends with a close handshake
	sub, err := stream.Subscribe(c.Context, url, xwebsocket.ClientDialTimeout(timeout))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	count := c.Int("count")
loop:
	for n := 0; count == 0 || n < count; n++ {
		select {
		case s, ok := <-sub.Samples():
			if !ok {
				return fmt.Errorf("stream ended: %w", sub.Err())
			}
			if err := enc.Encode(s); err != nil {
				sub.Close(err)
				return err
			}
		case <-ctx.Done():
			break loop
		}
	}

	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), timeout)
	defer cancelLeave()
	return sub.Leave(leaveCtx)
}
