package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"swarmstream/internal/domain"
	"swarmstream/internal/services/session"
	"swarmstream/internal/services/swarm/anacrolix"
	"swarmstream/internal/services/swarm/readiness"
)

type streamOptions struct {
	id            string
	dataDir       string
	timeout       time.Duration
	threshold     float64
	requirePrefix bool
	memory        bool
	memoryLimit   int64
	out           string
	verbose       bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "swarmctl",
		Short:         "Drive swarm streaming sessions from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStreamCmd())
	return root
}

func newStreamCmd() *cobra.Command {
	opts := streamOptions{}
	cmd := &cobra.Command{
		Use:   "stream <magnet-or-torrent-url>",
		Short: "Join a swarm, wait until the largest file is playable and report progress",
		Long: `stream joins the swarm behind a magnet link, .torrent URL or .torrent file,
selects the largest file and waits until enough of it is downloaded to start
playback. It then prints the stream handle and a progress line every second
until interrupted. With --out the file is copied to disk as it arrives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStream(ctx, cmd.OutOrStdout(), domain.Locator(args[0]), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.id, "id", "", "content id (default: info hash of the locator)")
	flags.StringVarP(&opts.dataDir, "data-dir", "d", "data", "download directory for disk storage")
	flags.DurationVar(&opts.timeout, "timeout", session.DefaultConnectTimeout, "time allowed until the session is ready")
	flags.Float64Var(&opts.threshold, "threshold", readiness.DefaultThreshold, "fraction of the file required before playback")
	flags.BoolVar(&opts.requirePrefix, "require-prefix", false, "count only the contiguous prefix toward the threshold")
	flags.BoolVar(&opts.memory, "memory", false, "keep pieces in memory instead of on disk")
	flags.Int64Var(&opts.memoryLimit, "memory-limit", 0, "memory storage limit in bytes (0 = unlimited)")
	flags.StringVarP(&opts.out, "out", "o", "", "copy the selected file to this path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func runStream(ctx context.Context, w io.Writer, locator domain.Locator, opts streamOptions) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := locator.Validate(); err != nil {
		return err
	}
	id := contentIDFor(locator, opts.id)

	storageMode := anacrolix.StorageDisk
	if opts.memory {
		storageMode = anacrolix.StorageMemory
	}
	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:          opts.dataDir,
		StorageMode:      storageMode,
		MemoryLimitBytes: opts.memoryLimit,
	})
	if err != nil {
		return fmt.Errorf("start swarm engine: %w", err)
	}

	manager := session.NewManager(engine, session.Config{
		ConnectTimeout: opts.timeout,
		Readiness: readiness.Config{
			Threshold:     opts.threshold,
			RequirePrefix: opts.requirePrefix,
		},
	}, session.WithLogger(logger))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	fmt.Fprintf(w, "joining %s as %q\n", locator.Kind(), id)
	handle, err := manager.StreamSession(ctx, id, locator)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	fmt.Fprintf(w, "ready: handle=%s file=%s (%d bytes)\n", handle.ID, handle.File.Path, handle.File.Length)

	copyErr := make(chan error, 1)
	if opts.out != "" {
		go func() { copyErr <- copyStream(ctx, manager, id, opts.out) }()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return nil
		case err := <-copyErr:
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\nwrote %s\n", opts.out)
		case <-ticker.C:
			snap, err := manager.GetProgress(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\r%s", formatProgress(snap))
			if snap.Status == domain.StatusError {
				fmt.Fprintln(w)
				return fmt.Errorf("session failed: %s", snap.Error)
			}
		}
	}
}

func copyStream(ctx context.Context, manager *session.Manager, id domain.ContentID, path string) error {
	reader, handle, err := manager.OpenStream(id)
	if err != nil {
		return err
	}
	defer reader.Close()
	reader.SetContext(ctx)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, reader, handle.File.Length); err != nil {
		_ = f.Close()
		return fmt.Errorf("copy %s: %w", handle.File.Path, err)
	}
	return f.Close()
}

// contentIDFor prefers an explicit id, then the locator's info hash.
func contentIDFor(locator domain.Locator, explicit string) domain.ContentID {
	if id := strings.TrimSpace(explicit); id != "" {
		return domain.ContentID(id)
	}
	if hash := locator.InfoHash(); hash != "" {
		return domain.ContentID(strings.ToLower(hash))
	}
	return "swarmctl"
}

func formatProgress(snap domain.SessionSnapshot) string {
	return fmt.Sprintf("%-11s %5.1f%% | down %s/s | up %s/s | peers %d",
		snap.Status,
		snap.Progress,
		formatBytes(snap.DownloadRate),
		formatBytes(snap.UploadRate),
		snap.Peers,
	)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
