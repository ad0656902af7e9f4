package image

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/stratumhq/stratum/internal/checksum"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/storage"
)

const whiteoutPrefix = ".wh."

// Files returns the serialized file listing of an image's layer. The
// listing is derived from the tar archive the first time it is needed and
// cached forever under the image id; image content is immutable so the
// cache never needs invalidation.
func (s *Service) Files(ctx context.Context, imageID string) ([]domain.FileInfo, error) {
	cached, err := s.store.Get(ctx, storage.ImageFilesPath(imageID))
	if err == nil {
		var files []domain.FileInfo
		if err := json.Unmarshal(cached, &files); err != nil {
			return nil, fmt.Errorf("failed to decode file listing for %s: %w", imageID, err)
		}
		return files, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	layer, err := s.store.StreamRead(ctx, storage.ImageLayerPath(imageID), nil)
	if err != nil {
		return nil, err
	}
	defer layer.Close()

	files, err := ListArchiveFiles(layer)
	if err != nil {
		return nil, fmt.Errorf("layer of %s: %w", imageID, err)
	}

	data, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("failed to encode file listing for %s: %w", imageID, err)
	}
	if err := s.store.Put(ctx, storage.ImageFilesPath(imageID), data); err != nil {
		return nil, fmt.Errorf("failed to cache file listing for %s: %w", imageID, err)
	}
	return files, nil
}

// ListArchiveFiles walks a (possibly gzip-compressed) tar stream and
// returns one entry per member, with whiteout markers folded into the
// deleted flag.
func ListArchiveFiles(source io.Reader) ([]domain.FileInfo, error) {
	stream, err := checksum.LayerReader(source)
	if err != nil {
		return nil, err
	}

	var files []domain.FileInfo
	reader := tar.NewReader(stream)
	for {
		hdr, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrLayerFormat, err)
		}
		if info, ok := serializeTarMember(hdr); ok {
			files = append(files, info)
		}
	}
	return files, nil
}

// serializeTarMember normalizes one tar member into a file entry. AUFS
// whiteout files (.wh. prefix) mark the underlying name as deleted;
// .wh..wh. entries are layer-format metadata and are skipped entirely.
func serializeTarMember(hdr *tar.Header) (domain.FileInfo, bool) {
	name := hdr.Name
	switch {
	case name == ".":
		name = "/"
	case strings.HasPrefix(name, "./"):
		name = "/" + strings.TrimPrefix(name, "./")
	case !strings.HasPrefix(name, "/"):
		name = "/" + name
	}
	if name != "/" {
		name = strings.TrimSuffix(name, "/")
	}

	deleted := false
	base := path.Base(name)
	if strings.HasPrefix(base, whiteoutPrefix+whiteoutPrefix) {
		return domain.FileInfo{}, false
	}
	if strings.HasPrefix(base, whiteoutPrefix) {
		deleted = true
		name = path.Join(path.Dir(name), strings.TrimPrefix(base, whiteoutPrefix))
	}

	return domain.FileInfo{
		Name:    name,
		Type:    string(rune(hdr.Typeflag)),
		Deleted: deleted,
		Size:    hdr.Size,
		ModTime: hdr.ModTime.Unix(),
		Mode:    hdr.Mode,
		UID:     hdr.Uid,
		GID:     hdr.Gid,
	}, true
}
