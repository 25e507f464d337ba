package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shardd/internal/common/fsutil"
	"shardd/internal/model"
	"shardd/internal/tokenizer"
	"shardd/pkg/types"
)

// shardFlags registers --model/--start/--end/--layers on cmd.
func shardFlags(cmd *cobra.Command, s *types.Shard) {
	f := cmd.Flags()
	f.StringVar(&s.ModelID, "model", "", "Model id (directory under the models dir)")
	f.IntVar(&s.Start, "start", 0, "First layer of the shard")
	f.IntVar(&s.End, "end", 0, "Layer after the last one of the shard (defaults to --layers)")
	f.IntVar(&s.NLayers, "layers", 0, "Total number of layers in the model")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("layers")
}

func normalizeShard(s types.Shard) types.Shard {
	if s.End == 0 {
		s.End = s.NLayers
	}
	return s
}

func newEncodeCmd(opts *options) *cobra.Command {
	var shard types.Shard
	cmd := &cobra.Command{
		Use:   "encode TEXT",
		Short: "Tokenize text with a model's tokenizer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(opts.cfg, nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			ids, err := eng.Encode(cmd.Context(), normalizeShard(shard), args[0])
			if err != nil {
				return err
			}
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = strconv.Itoa(id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " "))
			return nil
		},
	}
	shardFlags(cmd, &shard)
	return cmd
}

func newDecodeCmd(opts *options) *cobra.Command {
	var shard types.Shard
	cmd := &cobra.Command{
		Use:   "decode ID...",
		Short: "Detokenize token ids with a model's tokenizer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			eng, err := newEngine(opts.cfg, nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			text, err := eng.Decode(cmd.Context(), normalizeShard(shard), ids)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	shardFlags(cmd, &shard)
	return cmd
}

// parseIDs accepts ids as separate arguments or comma/space separated.
func parseIDs(args []string) ([]int, error) {
	var ids []int
	for _, a := range args {
		for _, p := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' || r == ' ' }) {
			id, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid token id %q", p)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

const defaultCorpus = "the quick brown fox jumps over the lazy dog. " +
	"a shard owns a contiguous range of layers and relays its hidden state to the next shard. "

func newInitReferenceCmd(opts *options) *cobra.Command {
	var (
		cfg        model.Config
		seed       uint64
		corpusPath string
	)
	cmd := &cobra.Command{
		Use:   "init-reference NAME",
		Short: "Write a small reference model with both tokenizer formats under the models dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := fsutil.AbsDir(opts.cfg.ModelsDir)
			if err != nil {
				return err
			}
			dir := filepath.Join(root, filepath.FromSlash(args[0]))
			return initReference(dir, cfg, seed, corpusPath)
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.HiddenSize, "hidden", 64, "Hidden size")
	f.IntVar(&cfg.VocabSize, "vocab", 1024, "Vocabulary size (at least 512)")
	f.IntVar(&cfg.NumHiddenLayers, "layers", 8, "Number of layers")
	f.Uint64Var(&seed, "seed", 1, "Weight initialisation seed")
	f.StringVar(&corpusPath, "corpus", "", "Text file to train the tokenizer on (defaults to a built-in sentence)")
	return cmd
}

// initReference writes weights, config.json, tokenizer.json and
// original/tokenizer.model. The tokenizer is trained to vocab-256 tokens
// so the ids of either format, including the fixed format's reserved
// specials, stay inside the model's vocabulary.
func initReference(dir string, cfg model.Config, seed uint64, corpusPath string) error {
	if cfg.VocabSize < 512 {
		return fmt.Errorf("vocab must be at least 512, got %d", cfg.VocabSize)
	}
	corpus := strings.Repeat(defaultCorpus, 8)
	if corpusPath != "" {
		b, err := os.ReadFile(corpusPath)
		if err != nil {
			return err
		}
		corpus = string(b)
	}
	if err := model.WriteReference(dir, cfg, seed); err != nil {
		return err
	}
	vocab, err := tokenizer.Train(corpus, cfg.VocabSize-256)
	if err != nil {
		return err
	}
	if err := vocab.WriteHF(dir); err != nil {
		return err
	}
	if err := vocab.WriteTiktoken(filepath.Join(dir, filepath.FromSlash(tokenizer.FixedFile))); err != nil {
		return err
	}
	log.Info().Str("dir", dir).Int("layers", cfg.NumHiddenLayers).Int("vocab", cfg.VocabSize).Int("tokens", len(vocab.Tokens)).Msg("reference model written")
	return nil
}
