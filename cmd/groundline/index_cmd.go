package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/groundline/groundline/pkg/corpus"
	"github.com/groundline/groundline/pkg/embed"
)

const embedBatchSize = 32

// indexCmd loads pre-chunked passages (JSONL, one chunk per line) into the
// corpus store and optionally embeds them through the local embedding
// server. Chunking itself is the ingestion pipeline's job.
func indexCmd() *cobra.Command {
	var (
		chunksPath string
		withEmbed  bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Load chunk JSONL into the corpus store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			chunks, err := readChunks(chunksPath)
			if err != nil {
				return err
			}
			crp, err := corpus.New(chunks)
			if err != nil {
				return err
			}

			store, err := corpus.OpenStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			info := corpus.BuildInfo{
				BuiltAt:     time.Now().UTC().Format(time.RFC3339),
				TotalChunks: crp.Len(),
				CorpusHash:  crp.Hash(),
			}

			if withEmbed {
				if cfg.EmbedModel == "" {
					return fmt.Errorf("--embed requires GROUNDLINE_EMBED_MODEL")
				}
				emb, err := embed.NewHTTP(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel)
				if err != nil {
					return err
				}
				vectors, err := embedAll(cmd.Context(), emb, chunks)
				if err != nil {
					return err
				}
				if err := store.SaveVectors(vectors); err != nil {
					return err
				}
				info.EmbeddingModel = cfg.EmbedModel
			}

			if err := store.SaveChunks(info, chunks); err != nil {
				return err
			}
			fmt.Printf("Indexed %d chunks (hash %s)\n", crp.Len(), crp.Hash()[:12])
			return nil
		},
	}

	cmd.Flags().StringVar(&chunksPath, "chunks", "", "path to chunk JSONL file (required)")
	cmd.Flags().BoolVar(&withEmbed, "embed", false, "embed chunks via the local embedding server")
	cmd.MarkFlagRequired("chunks")
	return cmd
}

func readChunks(path string) ([]corpus.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []corpus.Chunk
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var c corpus.Chunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, sc.Err()
}

func embedAll(ctx context.Context, emb embed.Embedder, chunks []corpus.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Text
		}
		vecs, err := emb.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		vectors = append(vectors, vecs...)
	}
	return vectors, nil
}
