// Command linker works with a vault directly, without the service.
//
// Usage:
//
//	linker resolve -vault DIR [-max-candidates N] [-exclude Templates/,Archive/] [-json] [FILE]
//	linker stats   -vault DIR [-exclude ...]
//	linker sync    -vault DIR [-config configs/development.yaml] [-prune]
//
// resolve reads FILE (or stdin), links it against the vault and prints the
// result followed by an "Unresolved mentions" section. sync copies the
// vault's titles and aliases into the Postgres document store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/vault"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/postgres"
)

const usage = `usage: linker <command> [flags]

commands:
  resolve   link a transcript against a vault
  stats     print index statistics for a vault
  sync      copy vault titles and aliases into postgres
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "resolve":
		err = runResolve(ctx, args[1:], stdin, stdout, stderr)
	case "stats":
		err = runStats(ctx, args[1:], stdout, stderr)
	case "sync":
		err = runSync(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "linker %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

type vaultFlags struct {
	dir        string
	ext        string
	exclude    string
	noImplicit bool
	logLevel   string
}

func (v *vaultFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&v.dir, "vault", ".", "vault directory")
	fs.StringVar(&v.ext, "ext", corpus.DefaultExtension, "document file extension")
	fs.StringVar(&v.exclude, "exclude", "", "comma-separated folder prefixes to leave out of the index")
	fs.BoolVar(&v.noImplicit, "no-implicit", false, "do not index individual title words")
	fs.StringVar(&v.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func (v *vaultFlags) excluded() []string {
	if v.exclude == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v.exclude, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// buildIndex indexes the vault once.
func (v *vaultFlags) buildIndex(ctx context.Context, stderr io.Writer) (*corpus.Snapshot, error) {
	slog.SetDefault(logger.New(stderr, v.logLevel, "text"))
	src := vault.NewFilesystemSource(v.dir, v.ext)
	idx := corpus.New(
		corpus.WithSource(src),
		corpus.WithMetadataReader(src),
		corpus.WithExtension(v.ext),
	)
	defer idx.Close()
	idx.Configure(v.excluded(), !v.noImplicit)
	return idx.Rebuild(ctx)
}

func runResolve(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var vf vaultFlags
	vf.register(fs)
	maxCandidates := fs.Int("max-candidates", linker.DefaultMaxCandidates, "largest ambiguous match still offered as a suggestion")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := stdin
	if name := fs.Arg(0); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	text, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	resolver, err := linker.New(*maxCandidates)
	if err != nil {
		return err
	}
	snap, err := vf.buildIndex(ctx, stderr)
	if err != nil {
		return err
	}
	result := resolver.Resolve(string(text), snap)

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	_, err = io.WriteString(stdout, linker.AppendSuggestions(result.Text, result.Suggestions))
	return err
}

func runStats(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var vf vaultFlags
	vf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	snap, err := vf.buildIndex(ctx, stderr)
	if err != nil {
		return err
	}
	s := snap.Stats()
	fmt.Fprintf(stdout, "documents:        %d\n", s.Documents)
	fmt.Fprintf(stdout, "excluded:         %d\n", s.Excluded)
	fmt.Fprintf(stdout, "metadata errors:  %d\n", s.MetadataErrors)
	fmt.Fprintf(stdout, "exact terms:      %d\n", s.ExactTerms)
	fmt.Fprintf(stdout, "ambiguous terms:  %d\n", s.AmbiguousTerms)
	fmt.Fprintf(stdout, "implicit terms:   %d\n", s.ImplicitTerms)
	fmt.Fprintf(stdout, "build time:       %s\n", s.Duration)
	return nil
}

func runSync(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("vault", ".", "vault directory")
	ext := fs.String("ext", corpus.DefaultExtension, "document file extension")
	configPath := fs.String("config", "configs/development.yaml", "path to config file")
	prune := fs.Bool("prune", false, "delete stored documents that no longer exist in the vault")
	if err := fs.Parse(args); err != nil {
		return err
	}

	docs, err := vault.NewFilesystemSource(*dir, *ext).LoadWithAliases(ctx)
	if err != nil {
		return err
	}
	if *prune && len(docs) == 0 {
		return fmt.Errorf("no %s documents under %s; refusing to prune every stored document", *ext, *dir)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logger.New(stderr, cfg.Logging.Level, "text"))

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	res, err := vault.NewPostgresSource(db.DB).Sync(ctx, docs, *prune)
	if err != nil {
		return fmt.Errorf("syncing %d documents: %w", len(docs), err)
	}
	fmt.Fprintf(stdout, "synced %d documents from %s (%d new, %d updated, %d pruned)\n",
		len(docs), *dir, res.Created, res.Modified, res.Pruned)
	return nil
}
