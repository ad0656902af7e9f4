// Package storage provides the pluggable storage-driver abstraction, the
// canonical key scheme and the caching decorator used by the registry core.
package storage

import "fmt"

// The registry addresses its backend through a fixed, small vocabulary of
// entity-scoped keys. Namespace, repository, image id and tag are free-form
// strings supplied by the caller.

const (
	imagesRoot       = "images"
	repositoriesRoot = "repositories"
)

// ImagePath returns the key prefix holding all objects of one image.
func ImagePath(imageID string) string {
	return fmt.Sprintf("%s/%s", imagesRoot, imageID)
}

// ImageJSONPath returns the key of the image metadata blob.
func ImageJSONPath(imageID string) string {
	return fmt.Sprintf("%s/%s/json", imagesRoot, imageID)
}

// ImageLayerPath returns the key of the layer archive.
func ImageLayerPath(imageID string) string {
	return fmt.Sprintf("%s/%s/layer", imagesRoot, imageID)
}

// ImageMarkPath returns the key of the in-progress marker. Presence of the
// key is the marker; its content is irrelevant.
func ImageMarkPath(imageID string) string {
	return fmt.Sprintf("%s/%s/_inprogress", imagesRoot, imageID)
}

// ImageChecksumPath returns the key holding the image checksum set.
func ImageChecksumPath(imageID string) string {
	return fmt.Sprintf("%s/%s/_checksum", imagesRoot, imageID)
}

// ImageAncestryPath returns the key of the persisted ancestry chain.
func ImageAncestryPath(imageID string) string {
	return fmt.Sprintf("%s/%s/ancestry", imagesRoot, imageID)
}

// ImageFilesPath returns the key of the cached file listing.
func ImageFilesPath(imageID string) string {
	return fmt.Sprintf("%s/%s/_files", imagesRoot, imageID)
}

// ImageDiffPath returns the key of the cached diff result.
func ImageDiffPath(imageID string) string {
	return fmt.Sprintf("%s/%s/_diff", imagesRoot, imageID)
}

// RepositoryPath returns the key prefix holding all objects of one repository.
func RepositoryPath(namespace, repository string) string {
	return fmt.Sprintf("%s/%s/%s", repositoriesRoot, namespace, repository)
}

// TagPath returns the key of one named tag.
func TagPath(namespace, repository, tag string) string {
	return fmt.Sprintf("%s/%s/%s/tag_%s", repositoriesRoot, namespace, repository, tag)
}

// ImagesListPath returns the key of the repository images-list document.
func ImagesListPath(namespace, repository string) string {
	return fmt.Sprintf("%s/%s/%s/_images_list", repositoriesRoot, namespace, repository)
}

// PrivateFlagPath returns the key whose presence marks a repository private.
func PrivateFlagPath(namespace, repository string) string {
	return fmt.Sprintf("%s/%s/%s/_private", repositoriesRoot, namespace, repository)
}
