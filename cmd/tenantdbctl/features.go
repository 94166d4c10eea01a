package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newFeaturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Manage optional schema modules on tenant databases",
	}
	cmd.AddCommand(newFeatureInstallCmd())
	cmd.AddCommand(newFeatureUninstallCmd())
	return cmd
}

func newFeatureInstallCmd() *cobra.Command {
	var configJSON string
	cmd := &cobra.Command{
		Use:   "install <kind> <referenceID> <feature>",
		Short: "Install a feature's schema module into a tenant database",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if configJSON != "" {
				var config map[string]any
				if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
					return fmt.Errorf("parsing --config: %w", err)
				}
				payload = []byte(configJSON)
			}
			path := instancePath(args[0], args[1]) + "/features/" + url.PathEscape(args[2])
			if _, err := globalClient.doRequest("POST", path, bytes.NewReader(payload)); err != nil {
				return err
			}
			fmt.Printf("installed feature %s on %s/%s\n", args[2], args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&configJSON, "config", "", "Feature config as a JSON object")
	return cmd
}

func newFeatureUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <kind> <referenceID> <feature>",
		Short: "Remove a feature's registration (the schema is left in place)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := instancePath(args[0], args[1]) + "/features/" + url.PathEscape(args[2])
			if _, err := globalClient.doRequest("DELETE", path, nil); err != nil {
				return err
			}
			fmt.Printf("uninstalled feature %s from %s/%s\n", args[2], args[0], args[1])
			return nil
		},
	}
}
