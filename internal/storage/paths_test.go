package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImagePaths(t *testing.T) {
	assert.Equal(t, "images/abc", ImagePath("abc"))
	assert.Equal(t, "images/abc/json", ImageJSONPath("abc"))
	assert.Equal(t, "images/abc/layer", ImageLayerPath("abc"))
	assert.Equal(t, "images/abc/_inprogress", ImageMarkPath("abc"))
	assert.Equal(t, "images/abc/_checksum", ImageChecksumPath("abc"))
	assert.Equal(t, "images/abc/ancestry", ImageAncestryPath("abc"))
	assert.Equal(t, "images/abc/_files", ImageFilesPath("abc"))
	assert.Equal(t, "images/abc/_diff", ImageDiffPath("abc"))
}

func TestRepositoryPaths(t *testing.T) {
	assert.Equal(t, "repositories/lib/app", RepositoryPath("lib", "app"))
	assert.Equal(t, "repositories/lib/app/tag_latest", TagPath("lib", "app", "latest"))
	assert.Equal(t, "repositories/lib/app/_images_list", ImagesListPath("lib", "app"))
	assert.Equal(t, "repositories/lib/app/_private", PrivateFlagPath("lib", "app"))
}
