package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scribeline/sessionkeeper/internal/control"
	"github.com/scribeline/sessionkeeper/pkg/errutil"
)

// watchComponent names the control socket of the watch command.
const watchComponent = "watch"

// ProcessStatus holds the status information for the watch process.
type ProcessStatus struct {
	Component     string `json:"component"`
	Running       bool   `json:"running"`
	Health        string `json:"health,omitempty"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Phase         string `json:"phase,omitempty"`
	Username      string `json:"username,omitempty"`
	Error         string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd(_ *Deps) *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running session watcher",
		Long:  `Show the health, session phase and identity of a running watch process.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryProcessStatus(cmd, watchComponent)

	if cfg.jsonOutput {
		output, err := formatStatusJSON(status)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), output)
		return nil
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), formatStatusTable(status))
	return nil
}

// queryProcessStatus asks the control socket of component for its state.
func queryProcessStatus(cmd *cobra.Command, component string) ProcessStatus {
	status := ProcessStatus{Component: component}

	client, err := control.Dial(component)
	if err != nil {
		if errutil.Code(err) == "CONTROL_NOT_RUNNING" {
			status.Error = "not running"
		} else {
			status.Error = err.Error()
		}
		return status
	}

	ctx := cmd.Context()
	health, err := client.Health(ctx)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Running = true
	status.Health = health.Status

	proc, err := client.Status(ctx)
	if err != nil {
		// Health answered, so the process is up.
		return status
	}
	status.PID = proc.PID
	status.UptimeSeconds = proc.UptimeSeconds
	status.Phase = proc.Phase

	if sess, err := client.Session(ctx); err == nil && sess.Identity != nil {
		status.Username = sess.Identity.Username
	}
	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ProcessStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROCESS\tSTATUS\tHEALTH\tPID\tUPTIME\tSESSION\tUSER")
	_, _ = fmt.Fprintln(w, "-------\t------\t------\t---\t------\t-------\t----")

	if status.Running {
		user := status.Username
		if user == "" {
			user = "-"
		}
		phase := status.Phase
		if phase == "" {
			phase = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\trunning\t%s\t%d\t%s\t%s\t%s\n",
			status.Component, status.Health, status.PID, formatUptime(status.UptimeSeconds), phase, user)
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tstopped\t-\t-\t-\t-\t%s\n", status.Component, reason)
	}

	_ = w.Flush()
	return buf.String()
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status ProcessStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// formatUptime formats seconds into a human-readable duration.
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", int64(d.Hours()), (seconds%3600)/60)
	}
}
