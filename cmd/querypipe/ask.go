package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/querypipe/internal/app"
	"github.com/dshills/querypipe/internal/pipeline"
)

var (
	askSession string
	askNoCache bool
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Answer a single query",
	Long: `Runs one query through the pipeline and prints the answer. With --json the
full response is printed, including intent, candidates and stage timings.

Example:
  querypipe ask "do you have a dark roast under 20 dollars?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "Session ID recorded with the query metrics")
	askCmd.Flags().BoolVar(&askNoCache, "no-cache", false, "Bypass the response cache")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full response as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	return withApp(cmd.Context(), func(a *app.App) error {
		resp, err := a.Pipeline.Handle(cmd.Context(), query,
			pipeline.SessionContext{SessionID: askSession},
			pipeline.Options{UseCache: !askNoCache})
		if resp == nil {
			return err
		}

		if askJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(resp); encErr != nil {
				return encErr
			}
		} else {
			fmt.Println(resp.Content)
			fmt.Fprintf(os.Stderr, "intent=%s confidence=%.3f from_cache=%v total_ms=%.1f\n",
				resp.Intent, resp.Confidence, resp.FromCache, resp.Timings[pipeline.TimingTotal])
		}
		if err != nil {
			return fmt.Errorf("query failed (%s)", resp.ErrorKind)
		}
		return nil
	})
}
