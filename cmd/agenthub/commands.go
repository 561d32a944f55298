package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenthub/config"
	"github.com/hupe1980/agenthub/retrieval"
	"github.com/hupe1980/agenthub/runtime"
)

func newModelsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models of providers with credentials and their routing data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hub, done, err := flags.openHub(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			r := hub.Router()
			available := r.ListAvailableModels()
			if len(available) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no provider configured; set an API key such as OPENAI_API_KEY")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tCOST/1M\tSPEED\tQUALITY\tVISION")
			for _, provider := range r.Available() {
				for _, name := range available[provider] {
					info := r.ModelInfo(provider, name)
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
						provider, name,
						orDash(info.Cost, "%.2f"), orDash(info.Speed, "%d"), orDash(info.Quality, "%d"),
						info.Vision)
				}
			}
			return w.Flush()
		},
	}
}

func orDash[T any](v *T, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func newIngestCmd(flags *globalFlags) *cobra.Command {
	var kb string
	cmd := &cobra.Command{
		Use:   "ingest <files...>",
		Short: "Parse, chunk and store files in a knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, done, err := flags.openHub(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			total := 0
			for _, path := range args {
				res, err := hub.IngestFile(cmd.Context(), kb, path, nil)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				total += len(res.Chunks)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", path, len(res.Chunks))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks into %s\n", total, hub.Retrieval().Namespace(kb))
			return nil
		},
	}
	cmd.Flags().StringVar(&kb, "kb", "", "knowledge base ID")
	_ = cmd.MarkFlagRequired("kb")
	return cmd
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		kbs       []string
		k         int
		threshold float64
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve the chunks most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, done, err := flags.openHub(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			results, err := hub.Search(cmd.Context(), strings.Join(args, " "), kbs, k, threshold)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), retrieval.BuildContext(results))
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&kbs, "kb", nil, "knowledge base IDs")
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "maximum results (0 uses the configured default)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity (0 uses the configured default, negative disables filtering)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	_ = cmd.MarkFlagRequired("kb")
	return cmd
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		agentPath string
		message   string
		sessionID string
		userID    string
		image     string
		stream    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an agent defined in a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := config.LoadAgent(agentPath)
			if err != nil {
				return err
			}
			hub, done, err := flags.openHub(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			var res runtime.Result
			switch {
			case image != "":
				res = hub.RunWithImage(ctx, agent, sessionID, userID, message, image)
			case stream:
				return printStream(out, hub.Stream(ctx, agent, sessionID, userID, message))
			default:
				res = hub.Run(ctx, agent, sessionID, userID, message)
			}
			if !res.Success {
				return fmt.Errorf("run failed (%s): %s", res.Reason, res.Error)
			}
			fmt.Fprintln(out, res.Response)
			printMetadata(out, res.Metadata)
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentPath, "agent", "a", "", "agent definition file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send")
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (generated when empty)")
	cmd.Flags().StringVar(&userID, "user", "cli", "user ID for tool permissions")
	cmd.Flags().StringVar(&image, "image", "", "image URL for vision models")
	cmd.Flags().BoolVar(&stream, "stream", false, "print steps as they happen")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func printStream(w io.Writer, s *runtime.EventStream) error {
	defer s.Close()
	for ev := range s.Events() {
		switch ev.Type {
		case runtime.EventStep:
			switch ev.Step.Kind {
			case runtime.StepText:
				fmt.Fprintf(w, "[%d] %s\n", ev.Step.Iteration, ev.Step.Text)
			case runtime.StepToolCall:
				fmt.Fprintf(w, "[%d] -> %s %s\n", ev.Step.Iteration, ev.Step.Tool, ev.Step.Arguments)
			case runtime.StepToolResult:
				if ev.Step.Error != "" {
					fmt.Fprintf(w, "[%d] <- %s error: %s\n", ev.Step.Iteration, ev.Step.Tool, ev.Step.Error)
				} else {
					fmt.Fprintf(w, "[%d] <- %s %v\n", ev.Step.Iteration, ev.Step.Tool, ev.Step.Result)
				}
			}
		case runtime.EventFinish:
			fmt.Fprintln(w, ev.Response)
			printMetadata(w, ev.Metadata)
		case runtime.EventCancelled:
			return fmt.Errorf("run cancelled")
		case runtime.EventError:
			return fmt.Errorf("run failed (%s): %s", ev.Reason, ev.Error)
		}
	}
	return nil
}

func printMetadata(w io.Writer, md map[string]any) {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, md[k])
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
