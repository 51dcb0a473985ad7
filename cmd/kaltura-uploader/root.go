package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kalturaops/kaltura-uploader/entrykind"
	"github.com/kalturaops/kaltura-uploader/kaltura"
	"github.com/kalturaops/kaltura-uploader/upload"
)

// options collects every flag of the uploader command.
type options struct {
	serviceURL     string
	envFile        string
	partnerIDEnv   string
	adminSecretEnv string

	chunkSize    string
	minChunkSize string
	maxChunkSize string
	adaptive     bool
	targetTime   time.Duration
	maxRetries   int
	retryDelay   time.Duration

	tags                string
	categoryID          int
	accessControlID     int
	conversionProfileID int
	dlURLExtraParams    string

	verify  bool
	verbose bool
}

func newRootCmd(logger log.Logger) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "kaltura-uploader <file-or-glob> [...]",
		Short: "Upload files to Kaltura and create matching entries",
		Long: `Uploads files to Kaltura over the chunked upload-token API, creates the
matching entry type (media, document or data) from the file's content type,
and prints a direct-serve download URL.

Credentials come from the environment (by default KALTURA_PARTNER_ID and
KALTURA_ADMIN_SECRET); a .env file next to the working directory is loaded
when present.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), logger, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.serviceURL, "service-url", kaltura.DefaultServiceURL, "Kaltura API base URL")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with credentials (ignored when missing)")
	flags.StringVar(&opts.partnerIDEnv, "partner-id-env", "KALTURA_PARTNER_ID", "environment variable holding the partner ID")
	flags.StringVar(&opts.adminSecretEnv, "admin-secret-env", "KALTURA_ADMIN_SECRET", "environment variable holding the admin secret")

	flags.StringVar(&opts.chunkSize, "chunk-size", "2MB", "initial chunk size (e.g. 512KB, 2MB)")
	flags.BoolVar(&opts.adaptive, "adaptive", false, "resize chunks toward the target chunk time based on throughput")
	flags.DurationVar(&opts.targetTime, "target-time", 5*time.Second, "target transfer time per chunk in adaptive mode")
	flags.StringVar(&opts.minChunkSize, "min-chunk-size", "1MB", "lower bound for adaptive chunk sizing")
	flags.StringVar(&opts.maxChunkSize, "max-chunk-size", "100MB", "upper bound for adaptive chunk sizing")
	flags.IntVar(&opts.maxRetries, "max-retries", 4, "retries per chunk after the first attempt")
	flags.DurationVar(&opts.retryDelay, "retry-delay", time.Second, "first retry backoff delay; doubles per retry")

	flags.StringVar(&opts.tags, "tags", "", "comma-separated tags for the created entry")
	flags.IntVar(&opts.categoryID, "category-id", 0, "category to assign the entry to (skipped when <= 0)")
	flags.IntVar(&opts.accessControlID, "access-control-id", 0, "access control profile for the entry (skipped when <= 0)")
	flags.IntVar(&opts.conversionProfileID, "conversion-profile-id", 0, "conversion profile for the entry (skipped when <= 0)")
	flags.StringVar(&opts.dlURLExtraParams, "dl-url-extra-params", "", "extra query string appended to the direct-serve URL")

	flags.BoolVar(&opts.verify, "verify", false, "download the entry after upload and compare checksums")
	flags.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")

	return cmd
}

func run(ctx context.Context, logger log.Logger, opts *options, patterns []string) error {
	logger.EnableDebugLog(opts.verbose)

	if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Could not load %s: %s", opts.envFile, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	envRepo := env.NewRepository()
	partnerID, adminSecret, err := credentials(envRepo, opts)
	if err != nil {
		return err
	}

	config, err := uploadConfig(opts)
	if err != nil {
		return err
	}

	files, err := expandPatterns(patterns)
	if err != nil {
		return err
	}

	client := kaltura.NewClient(partnerID, adminSecret, logger, kaltura.Options{
		ServiceURL: opts.serviceURL,
	})
	if err := client.StartSession(ctx); err != nil {
		return err
	}

	var failed []string
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := uploadOne(ctx, logger, client, config, opts, path); err != nil {
			logger.Errorf("Upload of %s failed: %s", path, err)
			failed = append(failed, path)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d uploads failed: %s", len(failed), len(files), strings.Join(failed, ", "))
	}
	return nil
}

// credentials resolves the partner ID and admin secret. The secret falls
// back to an interactive prompt when stdin is a terminal.
func credentials(envRepo env.Repository, opts *options) (int, string, error) {
	rawPartnerID := envRepo.Get(opts.partnerIDEnv)
	if rawPartnerID == "" {
		return 0, "", fmt.Errorf("missing partner ID: set %s", opts.partnerIDEnv)
	}
	partnerID, err := strconv.Atoi(rawPartnerID)
	if err != nil {
		return 0, "", fmt.Errorf("partner ID in %s must be an integer, got %q", opts.partnerIDEnv, rawPartnerID)
	}

	adminSecret := envRepo.Get(opts.adminSecretEnv)
	if adminSecret == "" {
		adminSecret, err = promptSecret(opts.adminSecretEnv)
		if err != nil {
			return 0, "", err
		}
	}
	if adminSecret == "" {
		return 0, "", fmt.Errorf("missing admin secret: set %s", opts.adminSecretEnv)
	}
	return partnerID, adminSecret, nil
}

func promptSecret(envName string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	fmt.Fprintf(os.Stderr, "%s is unset. Admin secret: ", envName)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read admin secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// uploadConfig converts human-readable size flags into the engine's config.
func uploadConfig(opts *options) (upload.Config, error) {
	config := upload.DefaultConfig()
	config.Adaptive = opts.adaptive
	config.TargetChunkTime = opts.targetTime
	config.MaxRetries = opts.maxRetries
	config.BaseRetryDelay = opts.retryDelay

	for _, size := range []struct {
		flag  string
		value string
		out   *int64
	}{
		{"chunk-size", opts.chunkSize, &config.ChunkSizeKB},
		{"min-chunk-size", opts.minChunkSize, &config.MinChunkSizeKB},
		{"max-chunk-size", opts.maxChunkSize, &config.MaxChunkSizeKB},
	} {
		parsed, err := units.RAMInBytes(size.value)
		if err != nil {
			return upload.Config{}, fmt.Errorf("invalid --%s value %q: %w", size.flag, size.value, err)
		}
		if parsed < 1024 {
			return upload.Config{}, fmt.Errorf("--%s must be at least 1KB, got %q", size.flag, size.value)
		}
		*size.out = parsed / 1024
	}

	if err := config.Validate(); err != nil {
		return upload.Config{}, err
	}
	return config, nil
}

// expandPatterns resolves globs to concrete files, keeping order and
// dropping duplicates. Plain paths must exist.
func expandPatterns(patterns []string) ([]string, error) {
	checker := pathutil.NewPathChecker()

	var files []string
	seen := map[string]bool{}
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			exists, err := checker.IsPathExists(pattern)
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", pattern, err)
			}
			if !exists {
				return nil, fmt.Errorf("no files match %q", pattern)
			}
			add(pattern)
			continue
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", match, err)
			}
			if info.Mode().IsRegular() {
				add(match)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no regular files matched %s", strings.Join(patterns, ", "))
	}
	return files, nil
}

// uploadOne runs the full pipeline for a single file: chunked upload, entry
// creation, optional category assignment and verification.
func uploadOne(ctx context.Context, logger log.Logger, client *kaltura.Client, config upload.Config, opts *options, path string) error {
	fileName := filepath.Base(path)
	logger.Println()
	logger.Infof("Uploading %s...", path)

	session, err := upload.NewSession(client, config, logger, newProgressObserver(logger, fileName))
	if err != nil {
		return err
	}
	token, err := session.Upload(ctx, path)
	if err != nil {
		return err
	}
	stats := session.Stats()
	logger.Printf("Uploaded %s in %s (avg %s per chunk)",
		units.BytesSize(float64(stats.TotalBytes())),
		stats.TotalDuration().Round(time.Millisecond),
		stats.Average().Round(time.Millisecond))

	kind, mimeType := entrykind.ClassifyFile(path)
	logger.Debugf("Detected %s as %s (%s entry)", fileName, mimeType, kind)

	entry, err := client.CreateEntry(ctx, token.ID, fileName, kind, mimeType, kaltura.EntryOptions{
		Tags:                opts.tags,
		AccessControlID:     opts.accessControlID,
		ConversionProfileID: opts.conversionProfileID,
	})
	if err != nil {
		return err
	}

	if opts.categoryID > 0 {
		if err := client.AssignCategory(ctx, entry.ID, opts.categoryID); err != nil {
			// Category placement is cosmetic; the upload itself succeeded.
			logger.Warnf("%s", err)
		}
	}

	downloadURL := client.DirectServeURL(entry.ID, fileName, opts.dlURLExtraParams)
	logger.Donef("Entry %s created for %s", entry.ID, fileName)
	logger.Printf("Download URL: %s", downloadURL)

	if opts.verify {
		if err := verifyDownload(ctx, logger, downloadURL, path); err != nil {
			return fmt.Errorf("verification failed for %s: %w", fileName, err)
		}
		logger.Donef("Checksum verified for %s", fileName)
	}
	return nil
}
