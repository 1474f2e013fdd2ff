package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pulmo/internal/daemonctl"
	"pulmo/internal/ipc"
	"pulmo/internal/registry"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the pulmo daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the pulmo daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the pulmo daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and registry status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			statusResp, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, statusResp)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range systemLines(statusResp, cfg != nil && strings.TrimSpace(cfg.Notifications.NtfyTopic) != "") {
				fmt.Fprintln(stdout, renderStatusLine(line.label, line.kind, line.detail, colorize))
			}
			fmt.Fprintln(stdout)

			if len(statusResp.StageHealth) > 0 {
				for _, line := range renderSectionHeader("Stage Health", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, health := range statusResp.StageHealth {
					kind := statusOK
					detail := "Ready"
					if !health.Ready {
						kind = statusError
						detail = health.Detail
					}
					fmt.Fprintln(stdout, renderStatusLine(health.Name, kind, detail, colorize))
				}
				fmt.Fprintln(stdout)
			}

			for _, line := range renderSectionHeader("Registry Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildRegistryStatusRows(statusResp.Stats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Registry is empty")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Stage", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit status as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

type statusLine struct {
	label  string
	kind   statusKind
	detail string
}

func systemLines(resp *ipc.StatusResponse, notifyConfigured bool) []statusLine {
	lines := make([]statusLine, 0, 4)
	if resp.Running {
		lines = append(lines, statusLine{"Pulmo", statusOK, fmt.Sprintf("Running (pid %d)", resp.PID)})
	} else {
		lines = append(lines, statusLine{"Pulmo", statusWarn, "Not running (run `pulmo start`)"})
	}
	if resp.APIAddr != "" {
		lines = append(lines, statusLine{"HTTP API", statusOK, resp.APIAddr})
	} else if resp.Running {
		lines = append(lines, statusLine{"HTTP API", statusInfo, "Disabled"})
	}
	if notifyConfigured {
		lines = append(lines, statusLine{"Notifications", statusOK, "Configured"})
	} else {
		lines = append(lines, statusLine{"Notifications", statusInfo, "Not configured"})
	}
	if resp.RegistryDBPath != "" {
		lines = append(lines, statusLine{"Registry DB", statusInfo, resp.RegistryDBPath})
	}
	return lines
}

func buildRegistryStatusRows(stats map[string]int) [][]string {
	total := 0
	for _, count := range stats {
		total += count
	}
	if total == 0 {
		return nil
	}
	rows := make([][]string, 0, len(stats))
	for _, stage := range registry.AllStages() {
		count := stats[string(stage)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{formatStageLabel(string(stage)), fmt.Sprintf("%d", count)})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}
