package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/mohamurshid/AutoRemoveAi/internal/batch"
	"github.com/mohamurshid/AutoRemoveAi/internal/config"
	"github.com/mohamurshid/AutoRemoveAi/internal/service"
)

type processOptions struct {
	archive     bool
	outDir      string
	concurrency int
}

func newProcessCmd(root *rootOptions) *cobra.Command {
	opts := &processOptions{}

	cmd := &cobra.Command{
		Use:   "process [files|dirs...]",
		Short: "Remove the background of every image given and save the results",
		Long: "Each file argument is read as one image; each directory contributes its\n" +
			"direct image children. Non-image files are skipped. Results are saved as\n" +
			"<name>-removed.png in the output directory, or bundled into one archive\n" +
			"with --archive.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(
				config.WithOutputDir(opts.outDir),
				config.WithConcurrency(opts.concurrency),
			)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runProcess(ctx, cmd.OutOrStdout(), cfg, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.archive, "archive", false, "save one archive instead of individual files")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "output directory (overrides OUTPUT_DIR)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "parallel removal calls (overrides BATCH_CONCURRENCY)")
	return cmd
}

func runProcess(ctx context.Context, out io.Writer, cfg *config.Config, opts *processOptions, args []string) error {
	session, err := service.NewSessionFromConfig(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	paths := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		paths = append(paths, abs)
	}
	added, err := session.AddPaths(osfs.New("/"), paths)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		return fmt.Errorf("no images found in %d path(s)", len(args))
	}
	fmt.Fprintf(out, "Queued %d image(s)\n", len(added))

	summary, runErr := session.ProcessAll(ctx)
	for _, item := range session.Items() {
		switch item.Status {
		case batch.StatusDone:
			fmt.Fprintf(out, "  done   %s (%s)\n", item.SourceName, humanize.Bytes(uint64(len(item.Result))))
		case batch.StatusError:
			fmt.Fprintf(out, "  failed %s: %s\n", item.SourceName, item.LastError)
		default:
			fmt.Fprintf(out, "  %-6s %s\n", item.Status, item.SourceName)
		}
	}

	if summary.Succeeded > 0 {
		if err := saveResults(ctx, out, session, opts.archive, cfg.Batch.OutputDir); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(out, "%d done, %d failed\n", summary.Succeeded, summary.Failed)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d image(s) failed", summary.Failed, summary.Total)
	}
	return nil
}

func saveResults(ctx context.Context, out io.Writer, session *service.Session, asArchive bool, dir string) error {
	if asArchive {
		bundle, err := session.DownloadAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved %s (%d file(s), %s)\n",
			filepath.Join(dir, session.ArchiveName()), len(bundle.Entries), humanize.Bytes(uint64(len(bundle.Data))))
		return nil
	}

	for _, item := range session.Items() {
		if item.Status != batch.StatusDone {
			continue
		}
		name, err := session.Download(ctx, item.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved %s\n", filepath.Join(dir, name))
	}
	return nil
}
