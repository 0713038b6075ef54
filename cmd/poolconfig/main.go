// Command poolconfig loads a channel-pool configuration document and prints
// the resolved limits and method-affinity table. It never dials a channel
// or issues an RPC — it is a config linter, not an end-user probe program.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/webitel/grpc-channelpool/channelpool"
)

func main() {
	app := &cli.App{
		Name:  "poolconfig",
		Usage: "Validate and print a channel-pool configuration document",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config_file",
				Usage:    "Path to the channel pool config document",
				Required: true,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := channelpool.LoadConfig(c.String("config_file"), logger)

	out := struct {
		MaxSize      int                                  `json:"maxSize"`
		LowWatermark int                                  `json:"maxConcurrentStreamsLowWatermark"`
		Methods      map[string]channelpool.AffinityConfig `json:"methods"`
	}{
		MaxSize:      cfg.Limits.MaxSize,
		LowWatermark: cfg.Limits.LowWatermark,
		Methods:      cfg.MethodAffinity,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
