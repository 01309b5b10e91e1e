package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groundline/groundline/pkg/pipeline"
)

func replCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive question loop against the indexed corpus",
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

			ctx := context.Background()
			if err := rt.StartWatcher(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "corpus watch disabled: %v\n", err)
			}

			fmt.Printf("groundline: %d chunks loaded. Empty line or Ctrl-D to exit.\n", rt.Corpus().Len())
			sc := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !sc.Scan() {
					break
				}
				q := strings.TrimSpace(sc.Text())
				if q == "" {
					break
				}
				if rt.Stale() {
					fmt.Println("note: corpus changed on disk; answers use the indexes loaded at startup")
				}
				resp, err := rt.Ask(ctx, q, pipeline.AskOptions{Mode: pipeline.Mode(mode)})
				if err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
					continue
				}
				printResponse(resp)
			}
			return sc.Err()
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(pipeline.ModeAuto), "auto | strict | extractive_only")
	return cmd
}
