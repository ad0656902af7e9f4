package domain

import (
	"encoding/json"
	"fmt"
)

// ImageJSON is the subset of the image metadata blob the registry inspects.
// The blob itself is stored verbatim; everything beyond id and parent is
// opaque to the core.
type ImageJSON struct {
	ID     string `json:"id"`
	Parent string `json:"parent,omitempty"`
}

// ParseImageJSON validates that data is a JSON object carrying an id field
// and returns the decoded envelope.
func ParseImageJSON(data []byte) (*ImageJSON, error) {
	var meta ImageJSON
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageJSON, err)
	}
	if meta.ID == "" {
		return nil, fmt.Errorf("%w: missing id field", ErrInvalidImageJSON)
	}
	return &meta, nil
}

// FileInfo describes one member of a layer archive. The serialized form is
// a positional tuple, not an object, to stay compatible with the stored
// file-listing format: [name, type, deleted, size, mtime, mode, uid, gid].
type FileInfo struct {
	Name    string
	Type    string
	Deleted bool
	Size    int64
	ModTime int64
	Mode    int64
	UID     int
	GID     int
}

// MarshalJSON encodes the file info as its positional tuple form.
func (f FileInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Name, f.Type, f.Deleted, f.Size, f.ModTime, f.Mode, f.UID, f.GID})
}

// UnmarshalJSON decodes the positional tuple form.
func (f *FileInfo) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 8 {
		return fmt.Errorf("file info tuple has %d fields, want 8", len(tuple))
	}
	fields := []any{&f.Name, &f.Type, &f.Deleted, &f.Size, &f.ModTime, &f.Mode, &f.UID, &f.GID}
	for i, dst := range fields {
		if err := json.Unmarshal(tuple[i], dst); err != nil {
			return fmt.Errorf("file info tuple field %d: %w", i, err)
		}
	}
	return nil
}

// Record returns the name-less tuple used inside diff results.
func (f FileInfo) Record() FileRecord {
	return FileRecord{
		Type:    f.Type,
		Deleted: f.Deleted,
		Size:    f.Size,
		ModTime: f.ModTime,
		Mode:    f.Mode,
		UID:     f.UID,
		GID:     f.GID,
	}
}

// FileRecord is the per-file metadata tuple stored in diff results:
// [type, deleted, size, mtime, mode, uid, gid].
type FileRecord struct {
	Type    string
	Deleted bool
	Size    int64
	ModTime int64
	Mode    int64
	UID     int
	GID     int
}

// MarshalJSON encodes the record as its positional tuple form.
func (r FileRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Type, r.Deleted, r.Size, r.ModTime, r.Mode, r.UID, r.GID})
}

// UnmarshalJSON decodes the positional tuple form.
func (r *FileRecord) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 7 {
		return fmt.Errorf("file record tuple has %d fields, want 7", len(tuple))
	}
	fields := []any{&r.Type, &r.Deleted, &r.Size, &r.ModTime, &r.Mode, &r.UID, &r.GID}
	for i, dst := range fields {
		if err := json.Unmarshal(tuple[i], dst); err != nil {
			return fmt.Errorf("file record tuple field %d: %w", i, err)
		}
	}
	return nil
}

// Diff classifies a layer's files against its ancestry.
type Diff struct {
	Deleted map[string]FileRecord `json:"deleted"`
	Changed map[string]FileRecord `json:"changed"`
	Created map[string]FileRecord `json:"created"`
}

// NewDiff returns a diff with all three classification maps allocated so the
// serialized form always carries the three keys.
func NewDiff() *Diff {
	return &Diff{
		Deleted: make(map[string]FileRecord),
		Changed: make(map[string]FileRecord),
		Created: make(map[string]FileRecord),
	}
}
