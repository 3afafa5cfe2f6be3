package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nverev/threadsmith/internal/config"
)

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Generate tweet threads about a topic",
	Long: `Generate tweet threads about a topic.

Examples:
  threadsmith generate "deep work for engineers"
  threadsmith generate "hiring juniors" --count 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := strings.Join(args, " ")
		count, _ := cmd.Flags().GetInt("count")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/threads/generate",
			map[string]any{"topic": topic, "count": count})
		if err != nil {
			return err
		}

		var result struct {
			Threads []struct {
				Title  string   `json:"title"`
				Tweets []string `json:"tweets"`
			} `json:"threads"`
			ExamplesUsed int `json:"examples_used"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, th := range result.Threads {
			fmt.Printf("\n%s\n", colorize(colorBold, th.Title))
			for i, tweet := range th.Tweets {
				fmt.Printf("  %d. %s\n", i+1, tweet)
			}
		}
		if result.ExamplesUsed > 0 {
			fmt.Fprintf(os.Stderr, "\n(%d contextual examples used)\n", result.ExamplesUsed)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().Int("count", 1, "number of threads to generate")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record an edit with its annotation",
	Long: `Record a single edit/annotation pair as training signal.

Example:
  threadsmith feedback --original "Take breaks" \
    --edited "Step away from the screen every hour" \
    --note "too generic, make it concrete"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		original, _ := cmd.Flags().GetString("original")
		edited, _ := cmd.Flags().GetString("edited")
		note, _ := cmd.Flags().GetString("note")
		title, _ := cmd.Flags().GetString("title")

		if original == "" || edited == "" || note == "" {
			return fmt.Errorf("--original, --edited, and --note are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		now := time.Now().UTC().Format(time.RFC3339)
		resp, err := client.post(cmd.Context(), "/v1/feedback", map[string]any{
			"script_title": title,
			"edits": []map[string]any{
				{"original": original, "edited": edited, "timestamp": now},
			},
			"annotations": []map[string]any{
				{"text": note, "timestamp": now},
			},
		})
		if err != nil {
			return err
		}

		var result map[string][]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		ids := result["triple_ids"]
		if len(ids) == 0 {
			printWarning("no pair recorded")
			return nil
		}
		printSuccess("Recorded %s", ids[0])
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("original", "", "the generated text before editing")
	feedbackCmd.Flags().String("edited", "", "the text after editing")
	feedbackCmd.Flags().String("note", "", "the editor's annotation")
	feedbackCmd.Flags().String("title", "", "script title for grouping")
}

// --- patterns ---

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show texts the editor rewrote repeatedly",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/patterns?limit=%d", limit))
		if err != nil {
			return err
		}

		var patterns []struct {
			Original    string   `json:"original"`
			Frequency   int      `json:"frequency"`
			Annotations []string `json:"annotations"`
			BestExample struct {
				FinalEdit string `json:"final_edit"`
				Quality   int    `json:"quality"`
			} `json:"best_example"`
		}
		if err := decodeJSON(resp, &patterns); err != nil {
			return err
		}

		if len(patterns) == 0 {
			fmt.Println("No recurring patterns yet.")
			return nil
		}

		for _, p := range patterns {
			fmt.Printf("\n%s (rewritten %d times)\n", colorize(colorBold, p.Original), p.Frequency)
			fmt.Printf("  best edit: %s\n", p.BestExample.FinalEdit)
			for _, a := range p.Annotations {
				fmt.Printf("  note: %s\n", a)
			}
		}
		return nil
	},
}

func init() {
	patternsCmd.Flags().Int("limit", 10, "maximum number of patterns")
}

// --- suggestions ---

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Manage instruction update suggestions",
}

var suggestionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/suggestions")
		if err != nil {
			return err
		}

		var suggestions []struct {
			ID         string  `json:"id"`
			Confidence float64 `json:"confidence"`
			Change     struct {
				TargetSection string `json:"target_section"`
				NewContent    string `json:"new_content"`
				Reasoning     string `json:"reasoning"`
			} `json:"change"`
		}
		if err := decodeJSON(resp, &suggestions); err != nil {
			return err
		}

		if len(suggestions) == 0 {
			fmt.Println("No pending suggestions. Run: threadsmith suggestions analyze")
			return nil
		}

		for _, s := range suggestions {
			fmt.Printf("\n%s [confidence %.2f] → %s\n",
				colorize(colorCyan, s.ID[:8]), s.Confidence, s.Change.TargetSection)
			fmt.Printf("  %s\n", s.Change.NewContent)
			fmt.Printf("  why: %s\n", s.Change.Reasoning)
		}
		return nil
	},
}

var suggestionsAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Mine captured feedback for new suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/suggestions/analyze", nil)
		if err != nil {
			return err
		}

		var result struct {
			Suggestions []json.RawMessage `json:"suggestions"`
			Analysis    struct {
				NeedsUpdate bool   `json:"needs_update"`
				Summary     string `json:"summary"`
			} `json:"analysis"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%d new suggestions", len(result.Suggestions))
		if result.Analysis.Summary != "" {
			fmt.Printf("  %s\n", result.Analysis.Summary)
		}
		return nil
	},
}

var suggestionsApplyCmd = &cobra.Command{
	Use:   "apply <id>",
	Short: "Apply a suggestion as a new instruction version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/suggestions/"+args[0]+"/apply", nil)
		if err != nil {
			return err
		}

		var version struct {
			Version string `json:"version"`
		}
		if err := decodeJSON(resp, &version); err != nil {
			return err
		}

		printSuccess("Applied as %s", version.Version)
		return nil
	},
}

var suggestionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all pending suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/suggestions")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Suggestions cleared")
		return nil
	},
}

func init() {
	suggestionsCmd.AddCommand(suggestionsListCmd)
	suggestionsCmd.AddCommand(suggestionsAnalyzeCmd)
	suggestionsCmd.AddCommand(suggestionsApplyCmd)
	suggestionsCmd.AddCommand(suggestionsClearCmd)
}

// --- versions ---

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage instruction configuration versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configuration versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/versions")
		if err != nil {
			return err
		}

		var versions []struct {
			ID          string    `json:"id"`
			Version     string    `json:"version"`
			Timestamp   time.Time `json:"timestamp"`
			Author      string    `json:"author"`
			Description string    `json:"description"`
		}
		if err := decodeJSON(resp, &versions); err != nil {
			return err
		}

		for _, v := range versions {
			fmt.Printf("%s  %s  %s  [%s]  %s\n",
				colorize(colorCyan, v.ID[:8]),
				colorize(colorBold, v.Version),
				v.Timestamp.Format("2006-01-02 15:04"),
				v.Author,
				v.Description,
			)
		}
		return nil
	},
}

var versionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a version with its section snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/versions/"+args[0])
		if err != nil {
			return err
		}

		var version any
		if err := decodeJSON(resp, &version); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(version)
	},
}

var versionsRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Restore a version's sections as a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/versions/"+args[0]+"/rollback", nil)
		if err != nil {
			return err
		}

		var version struct {
			Version     string `json:"version"`
			Description string `json:"description"`
		}
		if err := decodeJSON(resp, &version); err != nil {
			return err
		}

		printSuccess("%s (%s)", version.Description, version.Version)
		return nil
	},
}

func init() {
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsShowCmd)
	versionsCmd.AddCommand(versionsRollbackCmd)
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
