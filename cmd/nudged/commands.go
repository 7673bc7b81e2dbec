package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okranz/nudged/internal/config"
)

// --- decide ---

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Ask the engine whether now is a good moment to interrupt",
	Long: `Ask the engine whether now is a good moment to interrupt.

Examples:
  nudged decide
  nudged decide --context "refactor hint"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		suggestionContext, _ := cmd.Flags().GetString("context")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/decide", map[string]string{"context": suggestionContext})
		if err != nil {
			return err
		}

		var result struct {
			ShouldInterrupt bool    `json:"should_interrupt"`
			Confidence      float64 `json:"confidence"`
			Reason          string  `json:"reason"`
			Layer           string  `json:"layer"`
			SuggestionID    string  `json:"suggestion_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.ShouldInterrupt {
			printSuccess("Interrupt (%.0f%% confident, %s layer)", result.Confidence*100, result.Layer)
			printStatus("Suggestion", "%s", result.SuggestionID)
		} else {
			printWarning("Stay quiet (%.0f%% confident, %s layer)", result.Confidence*100, result.Layer)
		}
		printStatus("Reason", "%s", result.Reason)
		return nil
	},
}

func init() {
	decideCmd.Flags().String("context", "", "short description of the suggestion being considered")
}

// --- outcome ---

var outcomeCmd = &cobra.Command{
	Use:   "outcome <suggestion-id> <action>",
	Short: "Report how the user reacted to a suggestion",
	Long: `Report how the user reacted to a suggestion.

Actions: dismiss, ignore, hover, expand, copy, click, save.

Example:
  nudged outcome 4f1c9b2a-... copy`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, action := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/outcomes", map[string]string{
			"suggestion_id": id,
			"action":        action,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded %s for %s", result["action"], id)
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent suggestion sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/sessions?limit=%d", limit))
		if err != nil {
			return err
		}

		var sessions []struct {
			ID       string    `json:"id"`
			ShownAt  time.Time `json:"shown_at"`
			AppID    string    `json:"app_id"`
			Context  string    `json:"context"`
			Resolved bool      `json:"resolved"`
			Action   string    `json:"action"`
		}
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			printWarning("No suggestion sessions yet")
			return nil
		}

		for _, s := range sessions {
			state := "pending"
			if s.Resolved {
				state = s.Action
			}
			fmt.Printf("  %s  %s  %-20s %-12s %s\n",
				s.ID, s.ShownAt.Local().Format("2006-01-02 15:04:05"), s.AppID, state, s.Context)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
}

// --- event ---

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Feed an activity event into the running engine",
}

var eventKeystrokeCmd = &cobra.Command{
	Use:   "keystroke",
	Short: "Record a keystroke event",
	RunE: func(cmd *cobra.Command, args []string) error {
		chars, _ := cmd.Flags().GetInt("chars")
		backspace, _ := cmd.Flags().GetBool("backspace")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/events/keystroke", map[string]any{
			"chars":     chars,
			"backspace": backspace,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		return decodeJSON(resp, &result)
	},
}

var eventPointerCmd = &cobra.Command{
	Use:   "pointer",
	Short: "Record a pointer movement event",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/events/pointer", struct{}{})
		if err != nil {
			return err
		}

		var result map[string]string
		return decodeJSON(resp, &result)
	},
}

var eventAppCmd = &cobra.Command{
	Use:   "app <bundle-id>",
	Short: "Record a frontmost-app change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		fullscreen, _ := cmd.Flags().GetBool("fullscreen")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/events/app", map[string]any{
			"bundle_id":  args[0],
			"name":       name,
			"fullscreen": fullscreen,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		return decodeJSON(resp, &result)
	},
}

func init() {
	eventKeystrokeCmd.Flags().Int("chars", 1, "number of characters typed")
	eventKeystrokeCmd.Flags().Bool("backspace", false, "mark the keystroke as a backspace")
	eventAppCmd.Flags().String("name", "", "display name of the app")
	eventAppCmd.Flags().Bool("fullscreen", false, "mark the app as fullscreen")
	eventCmd.AddCommand(eventKeystrokeCmd)
	eventCmd.AddCommand(eventPointerCmd)
	eventCmd.AddCommand(eventAppCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nudged system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)

	apiToken, tokenErr := config.EnsureToken(cfg)
	if tokenErr == nil {
		stResp, err := apiGet(client, serverURL+"/status", apiToken)
		if err == nil {
			var st struct {
				CharsPerMinute float64 `json:"chars_per_minute"`
				Gate           struct {
					Blocked bool   `json:"Blocked"`
					Reason  string `json:"Reason"`
				} `json:"gate"`
				Confusion struct {
					Detected bool    `json:"Detected"`
					Signal   string  `json:"Signal"`
					Score    float64 `json:"Score"`
				} `json:"confusion"`
				ColdStart    bool `json:"cold_start"`
				Interactions int  `json:"interactions"`
			}
			if json.NewDecoder(stResp.Body).Decode(&st) == nil {
				if st.Gate.Blocked {
					printStatus("Gate", "blocked (%s)", st.Gate.Reason)
				} else {
					printStatus("Gate", "open")
				}
				if st.Confusion.Detected {
					printStatus("Confusion", "%s (%.2f)", st.Confusion.Signal, st.Confusion.Score)
				} else {
					printStatus("Confusion", "none")
				}
				printStatus("Typing", "%.0f chars/min", st.CharsPerMinute)
				if st.ColdStart {
					printStatus("Policy", "cold start (%d interactions)", st.Interactions)
				} else {
					printStatus("Policy", "learned (%d interactions)", st.Interactions)
				}
			}
			stResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
