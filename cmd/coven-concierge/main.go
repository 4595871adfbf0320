// ABOUTME: Entry point for coven-concierge, the customer support conversation server
// ABOUTME: Cobra commands: serve, chat, token, health, version

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-concierge/internal/config"
)

// version can be overridden at build time with
// -ldflags "-X main.version=v1.2.3".
var version = "dev"

const banner = `
                                                          _
  ___ _____   _____ _ __         ___ ___  _ __   ___ (_) ___ _ __ __ _  ___
 / __/ _ \ \ / / _ \ '_ \ _____ / __/ _ \| '_ \ / __|| |/ _ \ '__/ _' |/ _ \
| (_| (_) \ V /  __/ | | |_____| (_| (_) | | | | (__ | |  __/ | | (_| |  __/
 \___\___/ \_/ \___|_| |_|      \___\___/|_| |_|\___||_|\___|_|  \__, |\___|
                                                                 |___/
`

// Global flags.
var configFlag string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coven-concierge",
		Short: "Customer support conversation server",
		Long: `coven-concierge routes customer questions to an agent engine, folds the
engine's event stream into one answer and keeps each conversation's
interaction history in a session store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (YAML or TOML)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file. When no path was given explicitly and the
// default file does not exist, built-in defaults are used and path is "".
func loadConfig() (cfg *config.Config, path string, err error) {
	path = config.Path(configFlag)
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	explicit := configFlag != "" || os.Getenv(config.ConfigEnvVar) != ""
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), "", nil
	}
	return nil, path, fmt.Errorf("loading config: %w", err)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coven-concierge %s\n", version)
		},
	}
}

// printBanner prints the banner and version to stdout.
func printBanner() {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)
}

// printSetting prints one "▶ Label: value" startup line.
func printSetting(label, value string) {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("%-10s %s\n", label+":", value)
}
