package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundline/groundline/pkg/corpus"
	"github.com/groundline/groundline/pkg/pipeline"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show corpus and index state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := corpus.OpenStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			chunks, err := store.LoadChunks()
			if err != nil {
				return err
			}
			crp, err := corpus.New(chunks)
			if err != nil {
				return err
			}
			vectors, err := store.LoadVectors()
			if err != nil {
				return err
			}
			info, err := store.LoadBuildInfo()
			if err != nil {
				return err
			}

			fmt.Printf("data dir:     %s\n", cfg.DataDir)
			fmt.Printf("chunks:       %d\n", crp.Len())
			fmt.Printf("corpus hash:  %s\n", crp.Hash())
			if len(vectors) > 0 {
				fmt.Printf("embeddings:   %d x %d\n", len(vectors), len(vectors[0]))
			} else {
				fmt.Printf("embeddings:   none (lexical-only)\n")
			}
			if info != nil {
				fmt.Printf("built at:     %s\n", info.BuiltAt)
				if info.EmbeddingModel != "" {
					fmt.Printf("embed model:  %s\n", info.EmbeddingModel)
				}
			}
			if _, err := os.Stat(pipeline.CachePath(cfg.DataDir)); err == nil {
				fmt.Printf("bm25 cache:   present\n")
			} else {
				fmt.Printf("bm25 cache:   absent (rebuilt on first query)\n")
			}
			return nil
		},
	}
}
