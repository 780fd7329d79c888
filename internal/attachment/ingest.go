package attachment

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"support-chat-backend/internal/model"
	"support-chat-backend/internal/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultUploadTimeout = 30 * time.Second

// Ingestor pushes staged files to remote storage. Uploads run through the
// shared worker pool so the number of in-flight uploads is capped
// process-wide, and each file gets its own deadline so a hung upload
// becomes a retryable failure instead of an open-ended stall.
type Ingestor struct {
	uploader Uploader
	queue    *queue.RequestQueueManager
	timeout  time.Duration
	logger   *zap.Logger
}

func NewIngestor(uploader Uploader, q *queue.RequestQueueManager, timeout time.Duration, logger *zap.Logger) *Ingestor {
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		uploader: uploader,
		queue:    q,
		timeout:  timeout,
		logger:   logger,
	}
}

// Ingest uploads every staged file and returns the persisted attachment
// records. It does not release the staging handle; the caller's deferred
// Release covers every exit path, including a failure partway through.
func (ing *Ingestor) Ingest(ctx context.Context, ticketID string, staged *Staged) ([]model.AttachmentRecord, error) {
	files := staged.Files()
	if len(files) == 0 {
		return nil, nil
	}

	records := make([]model.AttachmentRecord, 0, len(files))
	for _, f := range files {
		key := path.Join("tickets", ticketID, filepath.Base(f.Path))

		result, err := ing.upload(ctx, f.Path, key)
		if err != nil {
			ing.logger.Warn("attachment upload failed",
				zap.String("ticketId", ticketID),
				zap.String("file", f.OriginalName),
				zap.Error(err),
			)
			return nil, fmt.Errorf("upload %s: %w", f.OriginalName, err)
		}

		records = append(records, model.AttachmentRecord{
			ID:   uuid.NewString(),
			URL:  result.URL,
			Type: result.ContentType,
		})
	}

	return records, nil
}

func (ing *Ingestor) upload(ctx context.Context, localPath, key string) (UploadResult, error) {
	uploadCtx, cancel := context.WithTimeout(ctx, ing.timeout)
	defer cancel()

	var result UploadResult
	run := func() error {
		var err error
		result, err = ing.uploader.Upload(uploadCtx, localPath, key)
		return err
	}

	if ing.queue == nil {
		return result, run()
	}

	errc := make(chan error, 1)
	ing.queue.EnqueueJob(queue.Job{Fn: run, Errc: errc})

	select {
	case err := <-errc:
		return result, err
	case <-uploadCtx.Done():
		// The job may still run later; its context is already expired so
		// the upload itself fails fast. The buffered channel lets the
		// worker hand back the error without blocking.
		return UploadResult{}, uploadCtx.Err()
	}
}
