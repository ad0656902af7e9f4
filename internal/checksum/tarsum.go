package checksum

import (
	"archive/tar"
	"bufio"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"

	"github.com/stratumhq/stratum/internal/domain"
)

// gzipMagic is the two-byte gzip stream signature.
var gzipMagic = []byte{0x1f, 0x8b}

// LayerReader returns a reader over the uncompressed tar stream, peeking at
// the first bytes to transparently gunzip compressed layers.
func LayerReader(source io.Reader) (io.Reader, error) {
	buffered := bufio.NewReader(source)
	head, err := buffered.Peek(2)
	if err != nil {
		// Shorter than two bytes: hand it to the tar parser as-is.
		return buffered, nil //nolint:nilerr
	}
	if head[0] != gzipMagic[0] || head[1] != gzipMagic[1] {
		return buffered, nil
	}
	gz, err := gzip.NewReader(buffered)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLayerFormat, err)
	}
	return gz, nil
}

// tarsum computes the legacy order-independent structural hash. One hash is
// produced per tar member over its header string (plus data for non-empty
// members); the hex digests are sorted so the result does not depend on
// member order, then combined with the image JSON.
func tarsum(jsonData []byte, source io.Reader) (string, error) {
	stream, err := LayerReader(source)
	if err != nil {
		return "", err
	}

	var hashes []string
	reader := tar.NewReader(stream)
	for {
		hdr, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrLayerFormat, err)
		}
		hashes = append(hashes, memberHash(hdr, reader))
	}

	sort.Strings(hashes)

	final := sha256.New()
	final.Write(jsonData)
	for _, sum := range hashes {
		final.Write([]byte(sum))
	}
	return fmt.Sprintf("tarsum+%s", digest.NewDigest(digest.SHA256, final)), nil
}

// memberHash hashes one tar member. A member whose data cannot be read back
// to its declared size degrades to a header-only hash rather than failing
// the whole computation.
func memberHash(hdr *tar.Header, data io.Reader) string {
	header := headerString(hdr)
	if hdr.Size > 0 {
		h := sha256.New()
		h.Write([]byte(header))
		n, err := io.Copy(h, data)
		if err == nil && n == hdr.Size {
			return fmt.Sprintf("%x", h.Sum(nil))
		}
	}
	h := sha256.New()
	h.Write([]byte(header))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// headerString serializes a tar header into the fixed field order the legacy
// checksum is defined over. The type field is written under its historical
// alias and directory names are normalized to a trailing slash.
func headerString(hdr *tar.Header) string {
	name := hdr.Name
	if hdr.Typeflag == tar.TypeDir && !strings.HasSuffix(name, "/") {
		name += "/"
	}

	var b strings.Builder
	b.WriteString("name" + name)
	b.WriteString("mode" + strconv.FormatInt(hdr.Mode, 10))
	b.WriteString("uid" + strconv.Itoa(hdr.Uid))
	b.WriteString("gid" + strconv.Itoa(hdr.Gid))
	b.WriteString("size" + strconv.FormatInt(hdr.Size, 10))
	b.WriteString("mtime" + strconv.FormatInt(hdr.ModTime.Unix(), 10))
	b.WriteString("typeflag" + string(rune(hdr.Typeflag)))
	b.WriteString("linkname" + hdr.Linkname)
	b.WriteString("uname" + hdr.Uname)
	b.WriteString("gname" + hdr.Gname)
	b.WriteString("devmajor" + strconv.FormatInt(hdr.Devmajor, 10))
	b.WriteString("devminor" + strconv.FormatInt(hdr.Devminor, 10))
	return b.String()
}
