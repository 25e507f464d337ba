package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shardd/internal/config"
	"shardd/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// options is the configuration shared by all subcommands: built-in
// defaults, then the optional config file, then explicitly set flags.
type options struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: config.Defaults()}
	root := &cobra.Command{
		Use:           "shardd",
		Short:         "Shard-resident inference node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.String("models-dir", opts.cfg.ModelsDir, "Directory holding one sub-directory per model")
	pf.String("log-level", opts.cfg.LogLevel, "Log level: debug|info|warn|error (defaults SHARDD_LOG_LEVEL or info)")
	pf.String("log-format", opts.cfg.LogFormat, "Log format: console|json")
	pf.Bool("fixed-tokenizer", opts.cfg.FixedTokenizer, "Use original/tokenizer.model instead of tokenizer.json (defaults SHARDD_FIXED_TOKENIZER)")
	pf.String("device", opts.cfg.Device, "Compute device handed to the model builder (defaults SHARDD_DEVICE or cpu)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := opts.resolve(cmd); err != nil {
			return err
		}
		logging.Setup(opts.cfg.LogLevel, opts.cfg.LogFormat)
		return nil
	}

	root.AddCommand(newServeCmd(opts), newEncodeCmd(opts), newDecodeCmd(opts), newInitReferenceCmd(opts), newVersionCmd())
	return root
}

// resolve merges the config file and the flags the user set into o.cfg.
func (o *options) resolve(cmd *cobra.Command) error {
	if o.configPath != "" {
		file, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = o.cfg.Merge(file)
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("models-dir", func() { o.cfg.ModelsDir, _ = flags.GetString("models-dir") })
	set("log-level", func() { o.cfg.LogLevel, _ = flags.GetString("log-level") })
	set("log-format", func() { o.cfg.LogFormat, _ = flags.GetString("log-format") })
	set("fixed-tokenizer", func() { o.cfg.FixedTokenizer, _ = flags.GetBool("fixed-tokenizer") })
	set("device", func() { o.cfg.Device, _ = flags.GetString("device") })
	set("addr", func() { o.cfg.Addr, _ = flags.GetString("addr") })
	set("temperature", func() { o.cfg.Temperature, _ = flags.GetFloat64("temperature") })
	set("top-k", func() { o.cfg.TopK, _ = flags.GetInt("top-k") })
	set("seed", func() { o.cfg.Seed, _ = flags.GetInt64("seed") })
	set("max-sessions", func() { o.cfg.MaxSessions, _ = flags.GetInt("max-sessions") })
	set("cors", func() { o.cfg.CORSEnabled, _ = flags.GetBool("cors") })
	set("cors-origins", func() {
		v, _ := flags.GetString("cors-origins")
		o.cfg.CORSAllowedOrigins = splitCSV(v)
	})
	return o.cfg.Validate()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "shardd", version)
		},
	}
}

// splitCSV splits a comma-separated list, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
