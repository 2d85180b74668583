// amhtool is a CLI utility for inspecting _amh models and _tex texture archives.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/Faultbox/amh-tools/internal/config"
	"github.com/Faultbox/amh-tools/internal/loader"
	"github.com/Faultbox/amh-tools/internal/logger"
)

// errUsage marks command line mistakes; they exit with status 2.
var errUsage = errors.New("usage")

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = run(ctx, cfg, config.Args(), os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		printUsage(os.Stderr)
		logger.Sync()
		os.Exit(2)
	default:
		logger.Log.Error("command failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `amhtool - _amh model and _tex texture utility

Usage:
  amhtool [flags] <command> [args]

Commands:
  info <file_amh>                 Show archive, model and texture summary
  tree <file_amh>                 Print the block tree (pos | tag | count | size)
  mesh <file_amh>                 Show assembled meshes per object
  textures <file_amh> <out-dir>   Export decoded textures (png or bmp)
  config [path]                   Write the effective config as YAML (default user config dir)

Flags:
  -config <path>     Config file (default ./amhtool.yaml, then user config dir)
  -debug             Enable debug logging
  -big-endian        Decode Wii files
  -flip-v            Negate the V texture coordinate
  -textures <path>   Texture archive or image directory
  -no-textures       Skip texture loading
  -format <fmt>      Export format: png or bmp
  -log-file <path>   Also write logs to a rotated file

Examples:
  amhtool info pl0010_amh
  amhtool -big-endian tree pl0010_amh
  amhtool -format bmp textures pl0010_amh ./out`)
}

// run executes one command. Only usage errors and model failures are returned.
func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	command, args := args[0], args[1:]
	switch command {
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	case "config":
		if len(args) > 1 {
			return fmt.Errorf("%w: config [path]", errUsage)
		}
		if len(args) == 0 {
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Fprintf(out, "Config written to %s\n", config.DefaultPath())
			return nil
		}
		if err := cfg.SaveTo(args[0]); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Fprintf(out, "Config written to %s\n", args[0])
		return nil
	}

	var want int
	switch command {
	case "info", "tree", "mesh":
		want = 1
	case "textures":
		want = 2
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
	if len(args) != want {
		return fmt.Errorf("%w: wrong number of arguments for %s", errUsage, command)
	}

	opts := loader.OptionsFromConfig(cfg)
	if command == "tree" {
		opts.LoadTextures = false
	}

	asset, err := loader.New(opts, logger.Log).Load(ctx, args[0])
	if err != nil {
		return err
	}

	switch command {
	case "info":
		printInfo(out, asset)
	case "tree":
		printTree(out, asset.Model)
	case "mesh":
		printMeshes(out, asset)
	case "textures":
		return exportTextures(out, asset, args[1], cfg.Export.Format)
	}
	return nil
}
