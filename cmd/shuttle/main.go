// Command shuttle is a thin CLI over the transfer engine: manual
// uploads, downloads and remote folder management against an
// S3-compatible endpoint configured through the environment or a .env
// file next to the binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/s3shuttle/shuttle"
	"github.com/s3shuttle/shuttle/config"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(os.Args[1], os.Args[2:], logger); err != nil {
		fmt.Fprintln(os.Stderr, "shuttle:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: shuttle <command> [arguments]

commands:
  ls [prefix]                 list one remote folder level
  upload [-to prefix] [-on-conflict skip|replace|copy] file...
  download [-to dir] key...
  rm [-r] key|prefix          remove an object, or a whole prefix with -r
  mv old-key new-key          rename an object (copy then delete)
  mkdir prefix                create a folder marker`)
}

func logLevel() slog.Level {
	if os.Getenv("SHUTTLE_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func run(command string, args []string, logger *slog.Logger) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := append(cfg.Options(), shuttle.WithLogger(logger))
	eng, err := shuttle.New(opts...)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer func() { _ = eng.Close(ctx) }()

	switch command {
	case "ls":
		return runList(ctx, eng, args)
	case "upload":
		return runUpload(ctx, eng, args)
	case "download":
		return runDownload(ctx, eng, args)
	case "rm":
		return runRemove(ctx, eng, args)
	case "mv":
		return runMove(ctx, eng, args)
	case "mkdir":
		return runMkdir(ctx, eng, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runList(ctx context.Context, eng *shuttle.Engine, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}

	listing, err := eng.ListPrefix(ctx, prefix)
	if err != nil {
		return err
	}

	for _, d := range listing.Dirs {
		fmt.Println(d)
	}
	for _, f := range listing.Files {
		fmt.Printf("%12d  %s  %s\n", f.Size, f.LastModified.Format("2006-01-02 15:04"), f.Name)
	}
	return nil
}

func runUpload(ctx context.Context, eng *shuttle.Engine, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	to := fs.String("to", "", "remote folder prefix to upload into")
	onConflict := fs.String("on-conflict", "skip", "skip, replace or copy when the destination exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("upload: no files given")
	}

	choice, err := parseChoice(*onConflict)
	if err != nil {
		return err
	}

	prefix := strings.Trim(*to, "/")
	if prefix != "" {
		if err := eng.EnsureFolderPath(ctx, prefix); err != nil {
			return err
		}
	}

	listing, err := eng.ListPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	existing := make([]string, 0, len(listing.Files))
	for _, f := range listing.Files {
		existing = append(existing, f.Key)
	}

	reqs := make([]shuttletypes.TransferRequest, 0, fs.NArg())
	for _, local := range fs.Args() {
		abs, err := filepath.Abs(local)
		if err != nil {
			return err
		}
		key := filepath.Base(local)
		if prefix != "" {
			key = prefix + "/" + key
		}
		reqs = append(reqs, shuttletypes.TransferRequest{
			Direction: shuttletypes.DirectionUpload,
			LocalPath: abs,
			RemoteKey: key,
			Choice:    choice,
		})
	}

	return submitAndReport(ctx, eng, reqs, existing)
}

func runDownload(ctx context.Context, eng *shuttle.Engine, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	to := fs.String("to", ".", "local directory to download into")
	onConflict := fs.String("on-conflict", "skip", "skip, replace or copy when the target exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("download: no keys given")
	}

	choice, err := parseChoice(*onConflict)
	if err != nil {
		return err
	}

	dir, err := filepath.Abs(*to)
	if err != nil {
		return err
	}

	// Conflicts are checked against what is already in the target dir.
	var existing []string
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			existing = append(existing, filepath.Join(dir, e.Name()))
		}
	}

	reqs := make([]shuttletypes.TransferRequest, 0, fs.NArg())
	for _, key := range fs.Args() {
		name := key
		if idx := strings.LastIndex(key, "/"); idx >= 0 {
			name = key[idx+1:]
		}
		reqs = append(reqs, shuttletypes.TransferRequest{
			Direction: shuttletypes.DirectionDownload,
			RemoteKey: key,
			LocalPath: filepath.Join(dir, name),
			Choice:    choice,
		})
	}

	return submitAndReport(ctx, eng, reqs, existing)
}

func runRemove(ctx context.Context, eng *shuttle.Engine, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	recursive := fs.Bool("r", false, "remove a whole prefix recursively")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("rm: exactly one key or prefix expected")
	}

	target := fs.Arg(0)
	if *recursive {
		return eng.DeleteTree(ctx, target)
	}
	return eng.DeleteObjects(ctx, []string{target})
}

func runMove(ctx context.Context, eng *shuttle.Engine, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("mv: old and new key expected")
	}
	return eng.Rename(ctx, args[0], args[1])
}

func runMkdir(ctx context.Context, eng *shuttle.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("mkdir: exactly one prefix expected")
	}
	return eng.CreateFolder(ctx, args[0])
}

func parseChoice(s string) (shuttletypes.UserChoice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip":
		return shuttletypes.UserChoice{Kind: shuttletypes.ChoiceSkip}, nil
	case "replace":
		return shuttletypes.UserChoice{Kind: shuttletypes.ChoiceReplace}, nil
	case "copy":
		return shuttletypes.UserChoice{Kind: shuttletypes.ChoiceMakeCopy}, nil
	default:
		return shuttletypes.UserChoice{}, fmt.Errorf("unknown conflict action %q", s)
	}
}

func submitAndReport(
	ctx context.Context,
	eng *shuttle.Engine,
	reqs []shuttletypes.TransferRequest,
	existing []string,
) error {
	handle, err := eng.SubmitBatch(ctx, reqs, existing)
	if err != nil {
		return err
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case shuttletypes.OutcomeCompleted:
			fmt.Printf("done     %s (%d bytes)\n", outcome.Key, outcome.BytesTransferred)
		case shuttletypes.OutcomeSkipped:
			fmt.Printf("skipped  %s\n", outcome.Key)
		case shuttletypes.OutcomeAborted:
			fmt.Printf("aborted  %s\n", outcome.Key)
		case shuttletypes.OutcomeFailed:
			failed++
			fmt.Printf("FAILED   %s: %v\n", outcome.Key, outcome.Err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(result.Outcomes))
	}
	return nil
}
