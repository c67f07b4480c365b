// Package commands implements CLI command handlers for scmwalk.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	progress "gopkg.in/cheggaaa/pb.v1"

	"github.com/brindlecode/scmwalk/pkg/cache"
	"github.com/brindlecode/scmwalk/pkg/config"
	"github.com/brindlecode/scmwalk/pkg/repository"
	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/scm"
	"github.com/brindlecode/scmwalk/pkg/scm/gitcli"
	"github.com/brindlecode/scmwalk/pkg/scm/svn"
)

// WalkOptions holds the walk command's flags.
type WalkOptions struct {
	SCM        string
	Branch     string
	Since      string
	Until      string
	CacheDir   string
	NoProgress bool
	ConfigPath string
}

// NewWalkCommand builds the `scmwalk walk <repo>` command: it opens repo
// (git or Subversion, sniffed from its URL/path shape unless --scm
// overrides that), wraps it in the revision cache, and prints one line per
// revision it walks.
func NewWalkCommand() *cobra.Command {
	opts := &WalkOptions{}

	cmd := &cobra.Command{
		Use:   "walk <repo>",
		Short: "Walk a repository's revision history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWalk(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.SCM, "scm", "auto", "Backend kind: auto, git, svn")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "Branch to walk (default: repository's main branch)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "Only walk revisions at or after this time (RFC3339)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "Only walk revisions at or before this time (RFC3339)")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "Cache directory (default: from config, usually ~/.cache/scmwalk)")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Configuration file path")

	return cmd
}

func runWalk(cmd *cobra.Command, repoArg string, opts *WalkOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.CacheDir != "" {
		cfg.Cache.Directory = opts.CacheDir
	}

	logger := slog.Default()

	kind := opts.SCM
	if kind == "" || kind == "auto" {
		kind = sniffBackend(repoArg)
	}

	backend, err := openBackend(ctx, kind, repoArg, logger)
	if err != nil {
		return fmt.Errorf("open %s repository %s: %w", kind, repoArg, err)
	}

	cached, err := cache.Open(ctx, backend, cfg.Cache.Directory, cache.WithShardCap(cfg.Cache.ShardCap))
	if err != nil {
		return fmt.Errorf("open revision cache: %w", err)
	}
	defer cached.Close()

	repo := repository.New(cached, repoArg, repository.WithLogger(logger))

	branch := opts.Branch
	if branch == "" {
		branch, err = repo.DefaultBranch(ctx)
		if err != nil {
			return fmt.Errorf("resolve default branch: %w", err)
		}
	}

	start, err := parseWalkTime(opts.Since)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}

	end, err := parseWalkTime(opts.Until)
	if err != nil {
		return fmt.Errorf("parse --until: %w", err)
	}

	out := cmd.OutOrStdout()

	var bar *progress.ProgressBar
	if !opts.NoProgress {
		bar = progress.New(100)
		bar.ShowPercent = true
		bar.ShowSpeed = false
		bar.Output = cmd.ErrOrStderr()
		bar.SetMaxWidth(80).Start()

		defer bar.Finish()
	}

	count := 0

	walkErr := repo.Walk(ctx, branch, start, end, func(_ context.Context, rev revision.Revision) error {
		count++
		printRevision(out, rev)

		return nil
	})

	if bar != nil {
		bar.Set(100)
	}

	if walkErr != nil {
		return fmt.Errorf("walk %s: %w", branch, walkErr)
	}

	fmt.Fprintf(out, "%s revisions walked\n", humanize.Comma(int64(count)))

	return nil
}

func printRevision(out io.Writer, rev revision.Revision) {
	id := color.New(color.FgYellow).Sprint(shortID(rev.ID))
	author := color.New(color.FgCyan).Sprint(rev.Author)
	when := time.Unix(rev.Date, 0).UTC().Format(time.RFC3339)
	files := humanize.Comma(int64(len(rev.Diffstat.Files())))

	fmt.Fprintf(out, "%s  %-20s  %s  %s files\n", id, author, when, files)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}

	return id
}

func parseWalkTime(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, err
	}

	return t.Unix(), nil
}

// sniffBackend guesses a repository kind from the shape of its location,
// the way `git clone`/`svn checkout` accept either a local path or a URL.
func sniffBackend(location string) string {
	switch {
	case strings.HasPrefix(location, "svn://"), strings.HasPrefix(location, "svn+ssh://"):
		return "svn"
	case strings.HasSuffix(location, ".git"):
		return "git"
	case strings.HasPrefix(location, "git://"), strings.HasPrefix(location, "git@"):
		return "git"
	}

	if isDir(filepath.Join(location, ".git")) || isFile(filepath.Join(location, "HEAD")) {
		return "git"
	}

	if isDir(filepath.Join(location, ".svn")) {
		return "svn"
	}

	return "git"
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

func openBackend(ctx context.Context, kind, location string, logger *slog.Logger) (scm.Backend, error) {
	switch kind {
	case "git":
		return gitcli.Open(ctx, location, gitcli.WithLogger(logger))
	case "svn":
		return svn.Open(ctx, location, svn.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unsupported scm kind %q", kind)
	}
}
