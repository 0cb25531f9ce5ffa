package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/mordilloSan/go-logger/logger"

	"github.com/paulstuart/fwhistory"
	"github.com/paulstuart/fwhistory/pkg/config"
	"github.com/paulstuart/fwhistory/pkg/firmware"
)

// CLI is the root command structure for fwhistory.
type CLI struct {
	Verbose bool   `short:"v" help:"Enable verbose debug output"`
	Config  string `short:"c" type:"existingfile" help:"YAML config file"`

	History   HistoryCmd   `cmd:"" default:"withargs" help:"Fetch the firmware history of a device (default)"`
	Normalize NormalizeCmd `cmd:"" help:"Normalize firmware strings to four fields"`
}

// setup initializes logging and loads the config file, if any.
func (c *CLI) setup() (config.Config, error) {
	levels := []logger.Level{logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel}
	if c.Verbose {
		levels = logger.AllLevels()
	}
	logger.Init(logger.Config{Levels: levels})

	if c.Config == "" {
		return config.Default(), nil
	}
	return config.Load(c.Config)
}

// HistoryCmd fetches and prints the firmware history of a device.
type HistoryCmd struct {
	Model        string `short:"m" required:"" help:"Device model, e.g. SM-G991B"`
	Region       string `short:"r" required:"" help:"Region/CSC code, e.g. EUX"`
	Output       string `short:"o" default:"-" help:"Output JSON file path, - for stdout"`
	NoChangelogs bool   `name:"no-changelogs" help:"Skip fetching changelogs"`
}

// Run executes the history command.
func (h *HistoryCmd) Run(globals *CLI) error {
	cfg, err := globals.setup()
	if err != nil {
		return err
	}
	if h.NoChangelogs {
		cfg.Changelogs = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	releases, err := fwhistory.Lookup(ctx, cfg, h.Model, h.Region)
	if err != nil {
		return err
	}

	jsonData, err := json.MarshalIndent(releases, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	if h.Output == "-" {
		_, err = fmt.Fprintln(os.Stdout, string(jsonData))
		return err
	}
	if err := os.WriteFile(h.Output, jsonData, 0644); err != nil {
		return fmt.Errorf("error writing JSON to file %s: %w", h.Output, err)
	}
	logger.Infof("Successfully wrote %d releases to %s", len(releases), h.Output)
	return nil
}

// NormalizeCmd prints firmware strings in their four field form.
type NormalizeCmd struct {
	Firmware []string `arg:"" help:"Firmware strings to normalize"`
}

// Run executes the normalize command.
func (n *NormalizeCmd) Run() error {
	return writeNormalized(os.Stdout, n.Firmware)
}

func writeNormalized(out io.Writer, fws []string) error {
	for _, fw := range fws {
		if _, err := fmt.Fprintln(out, firmware.Normalize(fw)); err != nil {
			return err
		}
	}
	return nil
}
