// Package repository manages the namespaced tag space over images, the
// repository images-list document and the private flag, and fires change
// notifications consumed by external collaborators such as a search index.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/storage"
)

const tagKeyPrefix = "tag_"

// EventNotifier receives repository lifecycle signals. Implementations must
// be non-blocking; a nil notifier disables signaling.
type EventNotifier interface {
	RepositoryCreated(ctx context.Context, namespace, repository string)
	RepositoryUpdated(ctx context.Context, namespace, repository string)
	RepositoryDeleted(ctx context.Context, namespace, repository string)
}

// LogNotifier is the default EventNotifier: it only logs.
type LogNotifier struct{}

func (LogNotifier) RepositoryCreated(_ context.Context, namespace, repository string) {
	log.Info().Str("namespace", namespace).Str("repository", repository).Msg("Repository created")
}

func (LogNotifier) RepositoryUpdated(_ context.Context, namespace, repository string) {
	log.Debug().Str("namespace", namespace).Str("repository", repository).Msg("Repository updated")
}

func (LogNotifier) RepositoryDeleted(_ context.Context, namespace, repository string) {
	log.Info().Str("namespace", namespace).Str("repository", repository).Msg("Repository deleted")
}

// Service implements the repository-level operations.
type Service struct {
	store    storage.Driver
	notifier EventNotifier
}

// NewService creates a repository service. notifier may be nil.
func NewService(store storage.Driver, notifier EventNotifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// SetTag points a named tag at an image id.
func (s *Service) SetTag(ctx context.Context, namespace, repository, tag, imageID string) error {
	existed, err := s.hasTags(ctx, namespace, repository)
	if err != nil {
		return fmt.Errorf("failed to check repository %s/%s: %w", namespace, repository, err)
	}

	if err := s.store.Put(ctx, storage.TagPath(namespace, repository, tag), []byte(imageID)); err != nil {
		return fmt.Errorf("failed to store tag %s: %w", tag, err)
	}

	if s.notifier != nil {
		if existed {
			s.notifier.RepositoryUpdated(ctx, namespace, repository)
		} else {
			s.notifier.RepositoryCreated(ctx, namespace, repository)
		}
	}

	log.Info().Str("namespace", namespace).Str("repository", repository).
		Str("tag", tag).Str("image_id", imageID).Msg("Tag stored")
	return nil
}

// GetTag resolves a tag to its image id.
func (s *Service) GetTag(ctx context.Context, namespace, repository, tag string) (string, error) {
	content, err := s.store.Get(ctx, storage.TagPath(namespace, repository, tag))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// DeleteTag removes one tag.
func (s *Service) DeleteTag(ctx context.Context, namespace, repository, tag string) error {
	if err := s.store.Remove(ctx, storage.TagPath(namespace, repository, tag)); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.RepositoryUpdated(ctx, namespace, repository)
	}
	return nil
}

// ListTags returns tag name to image id for every tag in the repository.
func (s *Service) ListTags(ctx context.Context, namespace, repository string) (map[string]string, error) {
	keys, err := s.store.List(ctx, storage.RepositoryPath(namespace, repository))
	if err != nil {
		return nil, err
	}

	tags := make(map[string]string)
	for _, key := range keys {
		base := key[strings.LastIndex(key, "/")+1:]
		if !strings.HasPrefix(base, tagKeyPrefix) {
			continue
		}
		imageID, err := s.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		tags[strings.TrimPrefix(base, tagKeyPrefix)] = string(imageID)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: no tags in %s/%s", domain.ErrNotFound, namespace, repository)
	}
	return tags, nil
}

// Delete removes the repository and everything under it.
func (s *Service) Delete(ctx context.Context, namespace, repository string) error {
	if err := s.store.Remove(ctx, storage.RepositoryPath(namespace, repository)); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.RepositoryDeleted(ctx, namespace, repository)
	}
	return nil
}

// SetImagesList stores the repository images-list document.
func (s *Service) SetImagesList(ctx context.Context, namespace, repository string, imageIDs []string) error {
	sorted := make([]string, len(imageIDs))
	copy(sorted, imageIDs)
	sort.Strings(sorted)

	data, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("failed to encode images list: %w", err)
	}
	return s.store.Put(ctx, storage.ImagesListPath(namespace, repository), data)
}

// GetImagesList returns the repository images-list document.
func (s *Service) GetImagesList(ctx context.Context, namespace, repository string) ([]string, error) {
	data, err := s.store.Get(ctx, storage.ImagesListPath(namespace, repository))
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode images list: %w", err)
	}
	return ids, nil
}

// IsPrivate reports whether the repository is flagged private.
func (s *Service) IsPrivate(ctx context.Context, namespace, repository string) (bool, error) {
	return s.store.Exists(ctx, storage.PrivateFlagPath(namespace, repository))
}

// SetPrivate flags or unflags the repository as private.
func (s *Service) SetPrivate(ctx context.Context, namespace, repository string, private bool) error {
	path := storage.PrivateFlagPath(namespace, repository)
	if private {
		return s.store.Put(ctx, path, []byte("true"))
	}
	if err := s.store.Remove(ctx, path); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// hasTags reports whether the repository already holds at least one tag. An
// absent repository is simply new; any other listing failure is the
// backend's problem and must not masquerade as "repository created".
func (s *Service) hasTags(ctx context.Context, namespace, repository string) (bool, error) {
	keys, err := s.store.List(ctx, storage.RepositoryPath(namespace, repository))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, key := range keys {
		if strings.HasPrefix(key[strings.LastIndex(key, "/")+1:], tagKeyPrefix) {
			return true, nil
		}
	}
	return false, nil
}
