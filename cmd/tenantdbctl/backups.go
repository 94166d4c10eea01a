package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type operationInfo struct {
	ID         string    `json:"ID"`
	InstanceID string    `json:"InstanceID"`
	Action     string    `json:"Action"`
	Outcome    string    `json:"Outcome"`
	Error      string    `json:"Error"`
	DurationMs int64     `json:"DurationMs"`
	CreatedAt  time.Time `json:"CreatedAt"`
}

type operationsListResponse struct {
	Operations []operationInfo `json:"operations"`
}

func newBackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Export and import tenant database dumps",
	}
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newRestoreCmd())
	return cmd
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <kind> <referenceID>",
		Short: "Export a tenant database to a dump file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("POST",
				instancePath(args[0], args[1])+"/backup", nil)
			if err != nil {
				return err
			}
			var resp struct {
				File string `json:"file"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Println(resp.File)
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <kind> <referenceID> <file>",
		Short: "Replace a tenant database with a dump's contents (destructive)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]string{"file": args[2]})
			_, err := globalClient.doRequest("POST",
				instancePath(args[0], args[1])+"/restore", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			fmt.Printf("restored %s/%s from %s\n", args[0], args[1], args[2])
			return nil
		},
	}
}

func newOperationsCmd() *cobra.Command {
	var instanceID string
	var limit int
	cmd := &cobra.Command{
		Use:   "operations",
		Short: "Show recent lifecycle operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/operations?limit=" + strconv.Itoa(limit)
			if instanceID != "" {
				path += "&instanceId=" + url.QueryEscape(instanceID)
			}
			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}
			var resp operationsListResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			rows := make([][]string, len(resp.Operations))
			for i, op := range resp.Operations {
				rows[i] = []string{op.Action, op.Outcome, op.InstanceID,
					strconv.FormatInt(op.DurationMs, 10) + "ms", op.Error}
			}
			return printOutput(os.Stdout, format, resp,
				[]string{"ACTION", "OUTCOME", "INSTANCE", "DURATION", "ERROR"}, rows)
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "Filter by instance id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to return")
	return cmd
}
