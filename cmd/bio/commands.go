package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rexliu/biosdk/pkg/bio"
	"github.com/rexliu/biosdk/pkg/config"
	"github.com/rexliu/biosdk/pkg/event"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a local profile (writes config.toml)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(flags.Profile, 0o700); err != nil {
				return err
			}
			configPath := filepath.Join(flags.Profile, config.FileName)
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
			}
			cfg := config.DefaultProfile(name)
			if err := config.Save(configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized profile %s at %s\n", cfg.ProfileName, flags.Profile)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "dev", "Profile name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config if present")
	return cmd
}

func newDiagCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Print profile configuration paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadProfile()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile: %s\n", cfg.ProfileName)
			fmt.Fprintf(out, "Config: %s\n", filepath.Join(flags.Profile, config.FileName))
			fmt.Fprintf(out, "Journal: %s\n", config.ResolvePath(flags.Profile, cfg.Storage.DBPath))
			fmt.Fprintf(out, "Socket: %s\n", config.ResolvePath(flags.Profile, cfg.Host.SocketPath))
			if cfg.Host.WebSocketAddr != "" {
				fmt.Fprintf(out, "WebSocket: %s\n", cfg.Host.WebSocketAddr)
			}
			if cfg.Logging.FilePath != "" {
				fmt.Fprintf(out, "Log File: %s\n", config.ResolvePath(flags.Profile, cfg.Logging.FilePath))
			}
			fmt.Fprintf(out, "Origin: %s (target %s, timeout %s)\n", cfg.Provider.Origin, cfg.Provider.TargetOrigin, cfg.Provider.RequestTimeout.Duration)
			return nil
		},
	}
}

func newCallCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params...]",
		Short: "Send one request and print the result",
		Long:  "Each param is parsed as JSON; anything that is not valid JSON is sent as a string.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			result, err := c.provider.Request(bio.RequestArgs{Method: args[0], Params: parseParams(args[1:])})
			if err != nil {
				if perr, ok := bio.AsProviderError(err); ok && perr.CodeName() != "" {
					return fmt.Errorf("%w (%s)", err, perr.CodeName())
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newEmitCmd(flags *globalFlags) *cobra.Command {
	var appID string
	cmd := &cobra.Command{
		Use:   "emit <event> [args...]",
		Short: "Ask the host to push an event to every session, or to one app",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			method := "host_broadcast"
			push := map[string]any{"event": args[0], "args": parseParams(args[1:])}
			if appID != "" {
				method = "host_notify"
				push["appId"] = appID
			}
			result, err := c.provider.Request(bio.RequestArgs{Method: method, Params: []any{push}})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "Deliver only to the session occupying this app slot")
	return cmd
}

var defaultWatchEvents = []string{bio.EventConnect, bio.EventDisconnect, "accountsChanged", "chainChanged"}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var appID string
	var count int
	cmd := &cobra.Command{
		Use:   "watch [events...]",
		Short: "Stream bio_event pushes from the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			names := args
			if len(names) == 0 {
				names = defaultWatchEvents
			}
			lines := make(chan string, 64)
			handlers := make(map[string]*event.Handler, len(names))
			for _, name := range names {
				handlers[name] = event.NewHandler(func(args ...any) {
					raw, _ := json.Marshal(args)
					select {
					case lines <- fmt.Sprintf("%s %s", name, raw):
					default:
					}
				})
			}

			c, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			for name, h := range handlers {
				c.provider.On(name, h)
			}
			connect := bio.RequestArgs{Method: bio.ConnectMethod}
			if appID != "" {
				connect.Params = []any{map[string]any{"appId": appID}}
			}
			if _, err := c.provider.Request(connect); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			seen := 0
			for {
				select {
				case line := <-lines:
					fmt.Fprintln(out, line)
					seen++
					if count > 0 && seen >= count {
						return nil
					}
				case err := <-c.done:
					if err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "Occupy this app slot so targeted events reach the watcher")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0 = until interrupted)")
	return cmd
}
