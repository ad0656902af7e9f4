// Package diff computes the created/changed/deleted classification of a
// layer's files against its ancestry, offloaded to background workers
// through a capped queue and deduplicated with an optimistic expiring lock.
package diff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/storage"
)

// ImageSource supplies the file listings and ancestry chains the engine
// classifies over.
type ImageSource interface {
	Files(ctx context.Context, imageID string) ([]domain.FileInfo, error)
	Ancestry(ctx context.Context, imageID string) ([]string, error)
}

// Engine computes and caches layer diffs. Image content is immutable, so a
// cached diff is final.
type Engine struct {
	store  storage.Driver
	images ImageSource
}

// NewEngine creates a diff engine over the given storage and image source.
func NewEngine(store storage.Driver, images ImageSource) *Engine {
	return &Engine{store: store, images: images}
}

// Diff returns the classification of the image's files against its
// ancestry, computing and caching it on first use.
func (e *Engine) Diff(ctx context.Context, imageID string) (*domain.Diff, error) {
	cached, err := e.store.Get(ctx, storage.ImageDiffPath(imageID))
	if err == nil {
		var result domain.Diff
		if err := json.Unmarshal(cached, &result); err != nil {
			return nil, fmt.Errorf("failed to decode cached diff for %s: %w", imageID, err)
		}
		return &result, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	result, err := e.compute(ctx, imageID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode diff for %s: %w", imageID, err)
	}
	if err := e.store.Put(ctx, storage.ImageDiffPath(imageID), data); err != nil {
		return nil, fmt.Errorf("failed to cache diff for %s: %w", imageID, err)
	}

	log.Info().Str("image_id", imageID).
		Int("deleted", len(result.Deleted)).
		Int("changed", len(result.Changed)).
		Int("created", len(result.Created)).
		Msg("Diff computed")
	return result, nil
}

// compute walks the ancestry from nearest to farthest ancestor. A file
// resolves against the first ancestor that knows its name: deleted here
// means deleted, deleted there means created again, otherwise changed.
// Whatever no ancestor ever saw was created in this layer.
func (e *Engine) compute(ctx context.Context, imageID string) (*domain.Diff, error) {
	files, err := e.images.Files(ctx, imageID)
	if err != nil {
		return nil, err
	}
	infoMap := make(map[string]domain.FileInfo, len(files))
	for _, file := range files {
		infoMap[file.Name] = file
	}

	ancestry, err := e.images.Ancestry(ctx, imageID)
	if err != nil {
		return nil, err
	}

	result := domain.NewDiff()
	for _, ancestorID := range ancestry[1:] {
		if len(infoMap) == 0 {
			break
		}
		ancestorFiles, err := e.images.Files(ctx, ancestorID)
		if err != nil {
			return nil, err
		}
		ancestorMap := make(map[string]domain.FileInfo, len(ancestorFiles))
		for _, file := range ancestorFiles {
			ancestorMap[file.Name] = file
		}

		for name, info := range infoMap {
			if info.Deleted {
				result.Deleted[name] = info.Record()
				delete(infoMap, name)
				continue
			}
			ancestorInfo, known := ancestorMap[name]
			if !known {
				continue
			}
			if ancestorInfo.Deleted {
				result.Created[name] = info.Record()
			} else {
				result.Changed[name] = info.Record()
			}
			delete(infoMap, name)
		}
	}

	for name, info := range infoMap {
		result.Created[name] = info.Record()
	}
	return result, nil
}
