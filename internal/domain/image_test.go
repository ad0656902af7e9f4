package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImageJSON(t *testing.T) {
	meta, err := ParseImageJSON([]byte(`{"id":"abc","parent":"def","os":"linux"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", meta.ID)
	assert.Equal(t, "def", meta.Parent)

	meta, err = ParseImageJSON([]byte(`{"id":"root"}`))
	require.NoError(t, err)
	assert.Empty(t, meta.Parent)
}

func TestParseImageJSON_Invalid(t *testing.T) {
	_, err := ParseImageJSON([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidImageJSON)

	_, err = ParseImageJSON([]byte(`{"parent":"def"}`))
	assert.ErrorIs(t, err, ErrInvalidImageJSON)
}

func TestFileInfo_TupleEncoding(t *testing.T) {
	info := FileInfo{
		Name:    "/etc/hosts",
		Type:    "0",
		Deleted: false,
		Size:    42,
		ModTime: 1700000000,
		Mode:    0o644,
		UID:     1000,
		GID:     100,
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.JSONEq(t, `["/etc/hosts","0",false,42,1700000000,420,1000,100]`, string(data))

	var decoded FileInfo
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, info, decoded)
}

func TestFileInfo_TupleLengthChecked(t *testing.T) {
	var info FileInfo
	err := json.Unmarshal([]byte(`["/etc/hosts","0",false]`), &info)
	assert.Error(t, err)
}

func TestFileRecord_TupleEncoding(t *testing.T) {
	record := FileInfo{
		Name:    "/bin/tool",
		Type:    "0",
		Deleted: true,
		Size:    9,
		ModTime: 1600000000,
		Mode:    0o755,
		UID:     1,
		GID:     2,
	}.Record()

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.JSONEq(t, `["0",true,9,1600000000,493,1,2]`, string(data))

	var decoded FileRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, record, decoded)
}

func TestDiff_SerializedShape(t *testing.T) {
	// An empty diff still serializes all three classification keys.
	data, err := json.Marshal(NewDiff())
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted":{},"changed":{},"created":{}}`, string(data))
}
