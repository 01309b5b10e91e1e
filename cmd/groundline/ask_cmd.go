package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groundline/groundline/pkg/config"
	"github.com/groundline/groundline/pkg/embed"
	"github.com/groundline/groundline/pkg/llm"
	"github.com/groundline/groundline/pkg/pipeline"
)

func askCmd() *cobra.Command {
	var (
		mode       string
		topN       int
		kInitial   int
		deadlineMS int
		domains    []string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question against the indexed corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.Ask(context.Background(), strings.Join(args, " "), pipeline.AskOptions{
				Mode:                 pipeline.Mode(mode),
				TopN:                 topN,
				KInitial:             kInitial,
				DeadlineMS:           deadlineMS,
				DomainFilterOverride: domains,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(resp)
			}
			printResponse(resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(pipeline.ModeAuto), "auto | strict | extractive_only")
	cmd.Flags().IntVar(&topN, "top-n", 0, "final candidate count (0 = configured default)")
	cmd.Flags().IntVar(&kInitial, "k", 0, "initial recall per leg (0 = configured default)")
	cmd.Flags().IntVar(&deadlineMS, "deadline-ms", 0, "per-query deadline in milliseconds")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "restrict retrieval to these domains")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the raw response as JSON")
	return cmd
}

func buildRuntime(cfg config.Config) (*pipeline.Runtime, error) {
	var opts []pipeline.RuntimeOption

	if cfg.EmbedModel != "" {
		emb, err := embed.NewHTTP(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithEmbedder(emb))
	}
	if cfg.LLMModel != "" {
		provider, err := llm.NewOpenAI(cfg.LLMBaseURL, "", cfg.LLMModel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithLLM(provider))
	}
	return pipeline.NewRuntime(cfg, opts...)
}

func printResponse(resp *pipeline.Response) {
	switch resp.Kind {
	case pipeline.KindAnswer:
		a := resp.Answer
		fmt.Println(a.Text)
		fmt.Printf("\nconfidence=%.2f audit=%s\n", a.Confidence, a.Audit.Status)
		for _, c := range a.Citations {
			if c.Page > 0 {
				fmt.Printf("  [%s p.%d %s]\n", c.Source, c.Page, c.ChunkID)
			} else {
				fmt.Printf("  [%s %s]\n", c.Source, c.ChunkID)
			}
		}

	case pipeline.KindExtractive:
		e := resp.Extractive
		fmt.Printf("No generated answer (%s). Closest passages:\n\n", e.Reason)
		for i, s := range e.Snippets {
			fmt.Printf("%d. [%s %s] %s\n\n", i+1, s.Source, s.ChunkID, s.Text)
		}
		if pipeline.IsOverload(resp) {
			fmt.Printf("Busy; retry in %ds.\n", pipeline.RetryAfterSeconds(resp))
		}

	case pipeline.KindRefusal:
		r := resp.Refusal
		fmt.Printf("Refused (%s): %s\n", r.Reason, r.Message)
	}
}
