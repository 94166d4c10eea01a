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

// instanceInfo mirrors the JSON structure of the server's instance
// responses.
type instanceInfo struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	ReferenceID  string         `json:"referenceId"`
	PhysicalName string         `json:"physicalName"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	SizeBytes    int64          `json:"sizeBytes"`
	LastBackupAt *time.Time     `json:"lastBackupAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type instanceListResponse struct {
	Databases []instanceInfo `json:"databases"`
}

func newDatabasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "databases",
		Short: "Manage tenant databases",
		Long:  "Create, clone, inspect, list, and delete template and website databases.",
	}
	cmd.AddCommand(newCreateTemplateCmd())
	cmd.AddCommand(newCreateWebsiteCmd())
	cmd.AddCommand(newCloneCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newDeleteCmd())
	return cmd
}

func newCreateTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-template <templateID>",
		Short: "Provision the database for a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("POST",
				"/templates/"+url.PathEscape(args[0])+"/database", nil)
			if err != nil {
				return err
			}
			return printInstance(body)
		},
	}
}

func newCreateWebsiteCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create-website <userID>",
		Short: "Provision the database for a customer website",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]string{"name": name})
			body, err := globalClient.doRequest("POST",
				"/websites/"+url.PathEscape(args[0])+"/database", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			return printInstance(body)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Requested site name (sanitized into the database name)")
	return cmd
}

func newCloneCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "clone <templateID> <userID>",
		Short: "Clone a template's database into a new website database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]string{
				"templateId": args[0],
				"name":       name,
			})
			body, err := globalClient.doRequest("POST",
				"/websites/"+url.PathEscape(args[1])+"/database/clone", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			return printInstance(body)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Requested site name for the clone target")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <kind> <referenceID>",
		Short: "Show one tenant database's lifecycle state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("GET", instancePath(args[0], args[1]), nil)
			if err != nil {
				return err
			}
			return printInstance(body)
		},
	}
}

func newListCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenant databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/databases"
			if kind != "" {
				path += "?kind=" + url.QueryEscape(kind)
			}
			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}
			var resp instanceListResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			rows := make([][]string, len(resp.Databases))
			for i, db := range resp.Databases {
				rows[i] = []string{db.Kind, db.ReferenceID, db.PhysicalName, db.Status,
					strconv.FormatInt(db.SizeBytes, 10)}
			}
			return printOutput(os.Stdout, format, resp,
				[]string{"KIND", "REFERENCE", "PHYSICAL", "STATUS", "SIZE"}, rows)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (template or website)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "delete <kind> <referenceID>",
		Short: "Drop a tenant database and retire its instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := instancePath(args[0], args[1])
			if purge {
				path += "?purge=true"
			}
			if _, err := globalClient.doRequest("DELETE", path, nil); err != nil {
				return err
			}
			fmt.Printf("deleted %s/%s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "Remove the registry row instead of tombstoning it")
	return cmd
}

func instancePath(kind, referenceID string) string {
	return "/databases/" + url.PathEscape(kind) + "/" + url.PathEscape(referenceID)
}

func printInstance(body []byte) error {
	var info instanceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	rows := [][]string{{info.Kind, info.ReferenceID, info.PhysicalName, info.Status,
		strconv.FormatInt(info.SizeBytes, 10)}}
	return printOutput(os.Stdout, format, info,
		[]string{"KIND", "REFERENCE", "PHYSICAL", "STATUS", "SIZE"}, rows)
}
