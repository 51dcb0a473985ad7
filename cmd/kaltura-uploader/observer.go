package main

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/kalturaops/kaltura-uploader/chunker"
	"github.com/kalturaops/kaltura-uploader/upload"
)

// progressObserver turns engine events into console output.
type progressObserver struct {
	logger   log.Logger
	fileName string
}

func newProgressObserver(logger log.Logger, fileName string) *progressObserver {
	return &progressObserver{logger: logger, fileName: fileName}
}

// TokenAcquired ...
func (o *progressObserver) TokenAcquired(sessionID, tokenID string) {
	o.logger.Debugf("[%s] upload token %s acquired", o.fileName, tokenID)
}

// ChunkSent ...
func (o *progressObserver) ChunkSent(sessionID string, chunk chunker.Descriptor, attempts int, elapsed time.Duration, state upload.State) {
	percent := 100.0
	if state.FileSize > 0 {
		percent = float64(state.BytesUploaded) / float64(state.FileSize) * 100
	}
	o.logger.Infof("[%s] chunk %d: %s in %s - %s of %s (%.1f%%)",
		o.fileName,
		chunk.Index,
		units.BytesSize(float64(chunk.Length)),
		elapsed.Round(time.Millisecond),
		units.BytesSize(float64(state.BytesUploaded)),
		units.BytesSize(float64(state.FileSize)),
		percent,
	)
}

// ChunkRetried ...
func (o *progressObserver) ChunkRetried(sessionID string, chunk chunker.Descriptor, retry int, delay time.Duration, err error) {
	o.logger.Warnf("[%s] chunk %d failed (retry %d in %s): %s",
		o.fileName, chunk.Index, retry, delay.Round(time.Millisecond), err)
}

// Finalized ...
func (o *progressObserver) Finalized(sessionID, tokenID string, state upload.State) {
	o.logger.Infof("[%s] uploaded %s in %d chunks",
		o.fileName, units.BytesSize(float64(state.BytesUploaded)), state.ChunksCompleted)
}
