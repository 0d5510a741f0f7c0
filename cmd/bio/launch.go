package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/rexliu/biosdk/pkg/miniapp"
)

func newLaunchURLCmd() *cobra.Command {
	var (
		manifestPath string
		m            miniapp.Manifest
		params       map[string]string
	)
	cmd := &cobra.Command{
		Use:   "launch-url",
		Short: "Print a miniapp launch URL with its launch-context params",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if manifestPath != "" {
				if _, err := toml.DecodeFile(manifestPath, &m); err != nil {
					return fmt.Errorf("read manifest: %w", err)
				}
			}
			if m.URL == "" {
				return fmt.Errorf("manifest url required (--url or --manifest)")
			}
			u, err := miniapp.LaunchURL(m, params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Manifest TOML file")
	cmd.Flags().StringVar(&m.URL, "url", "", "Miniapp entry URL")
	cmd.Flags().StringVar(&m.Version, "app-version", "", "Manifest version")
	cmd.Flags().StringVar(&m.UpdatedAt, "updated-at", "", "Manifest update timestamp")
	cmd.Flags().BoolVar(&m.StrictURL, "strict", false, "Launch the URL exactly as published")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Launch context param key=value (repeatable)")
	return cmd
}
