package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/storage"
)

// generateAncestry persists the parent chain for an image: the image itself
// first, the root last. Ancestries are write-once; a retry of the same JSON
// push finds the stored chain and leaves it untouched.
func (s *Service) generateAncestry(ctx context.Context, imageID, parentID string) error {
	exists, err := s.store.Exists(ctx, storage.ImageAncestryPath(imageID))
	if err != nil {
		return fmt.Errorf("failed to check ancestry for %s: %w", imageID, err)
	}
	if exists {
		return nil
	}

	ancestry := []string{imageID}
	if parentID != "" {
		parentAncestry, err := s.ancestry(ctx, parentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: %s has no ancestry", domain.ErrParentNotFound, parentID)
			}
			return err
		}
		ancestry = append(ancestry, parentAncestry...)
	}

	data, err := json.Marshal(ancestry)
	if err != nil {
		return fmt.Errorf("failed to encode ancestry for %s: %w", imageID, err)
	}
	if err := s.store.Put(ctx, storage.ImageAncestryPath(imageID), data); err != nil {
		return fmt.Errorf("failed to store ancestry for %s: %w", imageID, err)
	}
	return nil
}

// GetAncestry returns the ancestry of a verified image, head first.
func (s *Service) GetAncestry(ctx context.Context, imageID string) ([]string, error) {
	if err := s.requireVisible(ctx, imageID); err != nil {
		return nil, err
	}
	return s.ancestry(ctx, imageID)
}

// Ancestry returns the stored ancestry without the visibility gate. The
// diff engine walks ancestor chains of already verified images and must not
// be blocked by an unrelated concurrent re-push.
func (s *Service) Ancestry(ctx context.Context, imageID string) ([]string, error) {
	return s.ancestry(ctx, imageID)
}

func (s *Service) ancestry(ctx context.Context, imageID string) ([]string, error) {
	data, err := s.store.Get(ctx, storage.ImageAncestryPath(imageID))
	if err != nil {
		return nil, err
	}
	var ancestry []string
	if err := json.Unmarshal(data, &ancestry); err != nil {
		return nil, fmt.Errorf("failed to decode ancestry for %s: %w", imageID, err)
	}
	return ancestry, nil
}
