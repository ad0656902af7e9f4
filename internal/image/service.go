// Package image implements the push-side state machine and the pull-side
// read operations for layered images. An image moves through
// Empty -> JSONStored -> LayerStored -> Verified, with an in-progress marker
// gating visibility until its checksum has been confirmed.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/stratumhq/stratum/internal/checksum"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/storage"
)

// DiffNotifier enqueues an image for background diff computation once its
// push has been verified.
type DiffNotifier interface {
	Enqueue(ctx context.Context, imageID string) error
}

// Service coordinates image pushes and pulls against a storage driver.
type Service struct {
	store storage.Driver
	diffs DiffNotifier
}

// NewService creates an image service. notifier may be nil when no diff
// queue is wired in.
func NewService(store storage.Driver, notifier DiffNotifier) *Service {
	return &Service{store: store, diffs: notifier}
}

// Marked reports whether the image's in-progress marker is set.
func (s *Service) Marked(ctx context.Context, imageID string) (bool, error) {
	return s.store.Exists(ctx, storage.ImageMarkPath(imageID))
}

// PutJSON starts (or retries) a push by storing the image metadata blob.
// The body must be a JSON object whose id matches imageID; a parent, when
// declared, must already have its JSON in storage. Re-pushing a verified
// image is a conflict; re-pushing a marked one is a legitimate retry.
func (s *Service) PutJSON(ctx context.Context, imageID string, body []byte) error {
	meta, err := domain.ParseImageJSON(body)
	if err != nil {
		return err
	}
	if meta.ID != imageID {
		return fmt.Errorf("%w: body id %q does not match %q", domain.ErrInvalidImageJSON, meta.ID, imageID)
	}

	if meta.Parent != "" {
		parentExists, err := s.store.Exists(ctx, storage.ImageJSONPath(meta.Parent))
		if err != nil {
			return fmt.Errorf("failed to check parent %s: %w", meta.Parent, err)
		}
		if !parentExists {
			return fmt.Errorf("%w: %s", domain.ErrParentNotFound, meta.Parent)
		}
	}

	jsonExists, err := s.store.Exists(ctx, storage.ImageJSONPath(imageID))
	if err != nil {
		return fmt.Errorf("failed to check image %s: %w", imageID, err)
	}
	if jsonExists {
		marked, err := s.Marked(ctx, imageID)
		if err != nil {
			return err
		}
		if !marked {
			return fmt.Errorf("%w: %s", domain.ErrImageConflict, imageID)
		}
	}

	if err := s.store.Put(ctx, storage.ImageMarkPath(imageID), []byte("true")); err != nil {
		return fmt.Errorf("failed to mark image %s in progress: %w", imageID, err)
	}
	// A previous failed attempt may have left computed checksums behind.
	if err := s.store.Remove(ctx, storage.ImageChecksumPath(imageID)); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to clear stale checksum for %s: %w", imageID, err)
	}
	if err := s.store.Put(ctx, storage.ImageJSONPath(imageID), body); err != nil {
		return fmt.Errorf("failed to store json for %s: %w", imageID, err)
	}

	if err := s.generateAncestry(ctx, imageID, meta.Parent); err != nil {
		return err
	}

	log.Info().Str("image_id", imageID).Str("parent", meta.Parent).Msg("Image json stored")
	return nil
}

// PutLayer streams the layer archive into storage while computing its
// checksum set. The computed candidates are persisted so a later checksum
// confirmation, possibly served by another process, can verify against them.
func (s *Service) PutLayer(ctx context.Context, imageID string, body io.Reader) (checksum.Set, error) {
	jsonData, err := s.store.Get(ctx, storage.ImageJSONPath(imageID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: image %s has no json", domain.ErrNotFound, imageID)
		}
		return nil, err
	}

	layerExists, err := s.store.Exists(ctx, storage.ImageLayerPath(imageID))
	if err != nil {
		return nil, fmt.Errorf("failed to check layer %s: %w", imageID, err)
	}
	if layerExists {
		marked, err := s.Marked(ctx, imageID)
		if err != nil {
			return nil, err
		}
		if !marked {
			return nil, fmt.Errorf("%w: layer for %s", domain.ErrImageConflict, imageID)
		}
	}

	// Single pass: the body streams to storage while both checksums are
	// computed from the same bytes. An interrupted stream leaves the
	// marker set so the push can be retried.
	tap := checksum.NewTap(jsonData)
	if err := s.store.StreamWrite(ctx, storage.ImageLayerPath(imageID), tap.Tee(body)); err != nil {
		tap.Sums() //nolint:errcheck
		return nil, fmt.Errorf("failed to store layer for %s: %w", imageID, err)
	}

	sums, tarsumErr := tap.Sums()
	if tarsumErr != nil {
		// Legacy compatibility: a structurally invalid layer only loses
		// its tarsum, the simple checksum still applies.
		log.Warn().Err(tarsumErr).Str("image_id", imageID).Msg("Tarsum computation degraded")
	}

	candidates, err := json.Marshal(sums)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checksums for %s: %w", imageID, err)
	}
	if err := s.store.Put(ctx, storage.ImageChecksumPath(imageID), candidates); err != nil {
		return nil, fmt.Errorf("failed to store checksums for %s: %w", imageID, err)
	}

	log.Info().Str("image_id", imageID).Strs("checksums", sums).Msg("Layer stored")
	return sums, nil
}

// ConfirmChecksum verifies the client-asserted checksum against the set
// computed during the last layer push. On match the in-progress marker is
// cleared, making the image visible, and a diff computation is enqueued.
// On mismatch the marker stays set so the push can be retried.
func (s *Service) ConfirmChecksum(ctx context.Context, imageID, sum string) error {
	marked, err := s.Marked(ctx, imageID)
	if err != nil {
		return err
	}
	if !marked {
		return fmt.Errorf("%w: cannot set checksum for %s", domain.ErrImageConflict, imageID)
	}

	data, err := s.store.Get(ctx, storage.ImageChecksumPath(imageID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no checksum computed for %s", domain.ErrChecksumMismatch, imageID)
		}
		return err
	}
	var computed checksum.Set
	if err := json.Unmarshal(data, &computed); err != nil {
		return fmt.Errorf("failed to decode checksums for %s: %w", imageID, err)
	}

	if !computed.Contains(sum) {
		return fmt.Errorf("%w: %s not in computed set for %s", domain.ErrChecksumMismatch, sum, imageID)
	}

	if err := s.store.Remove(ctx, storage.ImageMarkPath(imageID)); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to clear marker for %s: %w", imageID, err)
	}

	// Fire and forget: an unavailable queue never fails the push.
	if s.diffs != nil {
		if err := s.diffs.Enqueue(ctx, imageID); err != nil {
			log.Warn().Err(err).Str("image_id", imageID).Msg("Failed to enqueue diff computation")
		}
	}

	log.Info().Str("image_id", imageID).Str("checksum", sum).Msg("Image verified")
	return nil
}

// GetJSON returns the metadata blob of a verified image. A marked image is
// reported as absent.
func (s *Service) GetJSON(ctx context.Context, imageID string) ([]byte, error) {
	if err := s.requireVisible(ctx, imageID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, storage.ImageJSONPath(imageID))
}

// GetLayer returns a reader over the layer of a verified image, optionally
// restricted to a byte range. An open-ended range is resolved against the
// stored layer size; drivers without native range support are compensated
// for by slicing the full stream.
func (s *Service) GetLayer(ctx context.Context, imageID string, byteRange *storage.ByteRange) (io.ReadCloser, error) {
	if err := s.requireVisible(ctx, imageID); err != nil {
		return nil, err
	}

	layerPath := storage.ImageLayerPath(imageID)
	if byteRange == nil {
		return s.store.StreamRead(ctx, layerPath, nil)
	}

	size, err := s.store.Size(ctx, layerPath)
	if err != nil {
		return nil, err
	}
	resolved := byteRange.Resolve(size)
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	if s.store.SupportsRanges() {
		return s.store.StreamRead(ctx, layerPath, &resolved)
	}

	// The driver always reads from the start: skip and limit here.
	full, err := s.store.StreamRead(ctx, layerPath, nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, full, resolved.First); err != nil {
		full.Close()
		return nil, fmt.Errorf("failed to skip to offset %d: %w", resolved.First, err)
	}
	return &slicedStream{Reader: io.LimitReader(full, resolved.Length()), inner: full}, nil
}

// slicedStream bounds a full-object stream to a byte range on behalf of
// drivers without native range support.
type slicedStream struct {
	io.Reader
	inner io.ReadCloser
}

func (s *slicedStream) Close() error { return s.inner.Close() }

// GetChecksum returns the confirmed checksum set of a verified image.
func (s *Service) GetChecksum(ctx context.Context, imageID string) (checksum.Set, error) {
	if err := s.requireVisible(ctx, imageID); err != nil {
		return nil, err
	}
	data, err := s.store.Get(ctx, storage.ImageChecksumPath(imageID))
	if err != nil {
		return nil, err
	}
	var sums checksum.Set
	if err := json.Unmarshal(data, &sums); err != nil {
		return nil, fmt.Errorf("failed to decode checksums for %s: %w", imageID, err)
	}
	return sums, nil
}

// requireVisible maps a marked (in-progress) image to ErrNotFound: pull
// operations must not observe unverified images.
func (s *Service) requireVisible(ctx context.Context, imageID string) error {
	marked, err := s.Marked(ctx, imageID)
	if err != nil {
		return err
	}
	if marked {
		return fmt.Errorf("%w: image %s is being uploaded", domain.ErrNotFound, imageID)
	}
	return nil
}
