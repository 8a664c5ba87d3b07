package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/vastfmt/internal/api"
	"github.com/kalambet/vastfmt/internal/audio"
	"github.com/kalambet/vastfmt/internal/config"
	"github.com/kalambet/vastfmt/internal/gpio"
	"github.com/kalambet/vastfmt/internal/storage"
)

// --- detect ---

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Show whether the FM transmitter is present and where audio goes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := fetchStatus(cmd.Context(), client)
		if err != nil {
			return err
		}
		printDetection(st)
		return nil
	},
}

func fetchStatus(ctx context.Context, client *apiClient) (api.StatusResponse, error) {
	var st api.StatusResponse
	resp, err := client.get(ctx, "/api/status")
	if err != nil {
		return st, err
	}
	err = decodeJSON(resp, &st)
	return st, err
}

func printDetection(st api.StatusResponse) {
	if st.Detection.Present {
		printStatus("Transmitter", "%s (card %d, %s)", badge(true, "Detected", ""), st.Detection.Index, st.Detection.Card.Name)
	} else {
		printStatus("Transmitter", "%s", badge(false, "", "Not Detected"))
	}
	printStatus("FM audio", "%s (card %d from %s)", badge(st.Routing.Enabled, "enabled", "disabled"), st.Routing.Card, st.Routing.Source)
}

// --- fm ---

var fmCmd = &cobra.Command{
	Use:   "fm",
	Short: "Route audio to or away from the FM transmitter",
}

var fmEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Make the FM transmitter the default audio output",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setFM(cmd.Context(), audio.StateEnabled)
	},
}

var fmDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Route default audio back to card 0",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setFM(cmd.Context(), audio.StateDisabled)
	},
}

func setFM(ctx context.Context, state string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(ctx, "/api/fm", api.FMRequest{State: state})
	if err != nil {
		return err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	switch result["status"] {
	case audio.ReplyDisabledNoFile:
		printWarning("FM audio disabled (no ALSA user config to change)")
	default:
		printSuccess("FM audio %s", result["status"])
	}
	return nil
}

func init() {
	fmCmd.AddCommand(fmEnableCmd)
	fmCmd.AddCommand(fmDisableCmd)
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change transmitter settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/settings")
		if err != nil {
			return err
		}
		var all map[string]string
		if err := decodeJSON(resp, &all); err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		}
		for _, k := range sortedKeys(all) {
			fmt.Printf("  %s = %q\n", colorize(labelStyle, k), all[k])
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key>=<value>...",
	Short: "Validate and store one or more settings",
	Long: `Validate and store one or more settings. Nothing is stored when any
value is rejected.

Examples:
  vastfmt settings set Frequency=88.5
  vastfmt settings set EnableRDS=True StationText="Merry   Christ- mas"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseAssignments(args)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/api/settings", values)
		if err != nil {
			return err
		}
		var all map[string]string
		if err := decodeJSON(resp, &all); err != nil {
			return err
		}

		for _, k := range sortedKeys(values) {
			printSuccess("Set %s = %q", k, all[k])
		}
		return nil
	},
}

var settingsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent settings changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/settings/history?limit=%d", limit))
		if err != nil {
			return err
		}
		var changes []storage.Change
		if err := decodeJSON(resp, &changes); err != nil {
			return err
		}

		if len(changes) == 0 {
			printStep("No changes recorded")
			return nil
		}
		for _, c := range changes {
			fmt.Println(formatChange(c))
		}
		return nil
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Restore a setting to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/settings/"+url.PathEscape(key))
		if err != nil {
			return err
		}
		var all map[string]string
		if err := decodeJSON(resp, &all); err != nil {
			return err
		}

		printSuccess("Reset %s = %q", key, all[key])
		return nil
	},
}

func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected <key>=<value>", arg)
		}
		values[key] = value
	}
	return values, nil
}

func formatChange(c storage.Change) string {
	old := "(unset)"
	if c.OldValue != nil {
		old = fmt.Sprintf("%q", *c.OldValue)
	}
	return fmt.Sprintf("  %s  %s: %s → %q", c.ChangedAt.Local().Format("2006-01-02 15:04:05"), c.Key, old, c.NewValue)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	settingsShowCmd.Flags().Bool("json", false, "print settings as JSON")
	settingsHistoryCmd.Flags().Int("limit", 20, "number of changes to show (max 100)")
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsHistoryCmd)
	settingsCmd.AddCommand(settingsResetCmd)
}

// --- devices / gpio ---

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List serial devices the transmitter may be attached to",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/devices")
		if err != nil {
			return err
		}
		var result map[string][]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result["devices"]) == 0 {
			printWarning("No serial devices found")
			return nil
		}
		for _, d := range result["devices"] {
			fmt.Println(d)
		}
		return nil
	},
}

var gpioCmd = &cobra.Command{
	Use:   "gpio",
	Short: "List GPIO pins usable as the I2C reset line",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/gpio")
		if err != nil {
			return err
		}
		var pins []gpio.Pin
		if err := decodeJSON(resp, &pins); err != nil {
			return err
		}
		for _, p := range pins {
			fmt.Printf("  %-8s GPIO %d\n", p.Pin, p.GPIO)
		}
		return nil
	},
}

// --- rds ---

var rdsCmd = &cobra.Command{
	Use:   "rds",
	Short: "RDS helpers",
}

var rdsScriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Print a shell script that starts RDS with the given song",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/rds/script?"+scriptQuery(cmd).Encode())
		if err != nil {
			return err
		}
		script, err := readText(resp)
		if err != nil {
			return err
		}
		fmt.Print(script)
		return nil
	},
}

func scriptQuery(cmd *cobra.Command) url.Values {
	q := url.Values{}
	for _, name := range []string{"artist", "title", "station", "frequency"} {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			q.Set(name, v)
		}
	}
	return q
}

func init() {
	rdsScriptCmd.Flags().String("artist", "", "artist name")
	rdsScriptCmd.Flags().String("title", "", "song title")
	rdsScriptCmd.Flags().String("station", "", "station name, at most 8 characters")
	rdsScriptCmd.Flags().String("frequency", "", "frequency in MHz (default: stored Frequency)")
	rdsCmd.AddCommand(rdsScriptCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the transmitter tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		svc, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s := api.NewMCPServer(api.MCPDeps{Router: svc.router, Settings: svc.settings})
		stdioSrv := server.NewStdioServer(s)
		slog.Info("MCP server started (stdio transport)", "profile", svc.profile.Name)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			note := k.EnvVar
			if k.Overridden {
				note = "from " + k.EnvVar
			} else if k.Value != k.Default {
				note += ", default " + k.Default
			}
			fmt.Printf("  %s = %s  (%s)\n", colorize(labelStyle, k.Key), k.Value, note)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			printStep("valid keys: %s", strings.Join(config.ValidKeys(), ", "))
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			printStep("valid keys: %s", strings.Join(config.ValidKeys(), ", "))
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
