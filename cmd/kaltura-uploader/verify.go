package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/melbahja/got"
)

// verifyDownload fetches the freshly served file and compares its SHA-256
// against the local original. Catches truncated or corrupted streams that
// the token status alone would miss.
func verifyDownload(ctx context.Context, logger log.Logger, downloadURL, localPath string) error {
	tempDir, err := pathutil.NewPathProvider().CreateTempDir("kaltura-verify")
	if err != nil {
		return fmt.Errorf("create verification dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logger.Warnf("Could not remove %s: %s", tempDir, err)
		}
	}()

	downloadedPath := filepath.Join(tempDir, filepath.Base(localPath))
	logger.Debugf("Downloading %s for verification", downloadURL)
	if err := got.New().Do(got.NewDownload(ctx, downloadURL, downloadedPath)); err != nil {
		return fmt.Errorf("download for verification: %w", err)
	}

	localSum, err := fileChecksum(localPath)
	if err != nil {
		return err
	}
	downloadedSum, err := fileChecksum(downloadedPath)
	if err != nil {
		return err
	}

	if localSum != downloadedSum {
		return fmt.Errorf("checksum mismatch: local %s, served %s", localSum, downloadedSum)
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for checksum: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
