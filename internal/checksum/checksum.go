// Package checksum computes the two checksum families attached to an
// uploaded layer: a simple streaming payload hash over the image JSON plus
// the layer bytes, and the legacy order-independent tarsum over the layer's
// tar structure. Both are produced in a single pass while the layer streams
// to storage.
package checksum

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/opencontainers/go-digest"
)

// Set is the collection of checksums computed for one layer push.
type Set []string

// Contains reports whether sum is a member of the set.
func (s Set) Contains(sum string) bool {
	for _, member := range s {
		if member == sum {
			return true
		}
	}
	return false
}

// Tap computes both checksums over a layer stream. Wire it into the upload
// path with Tee, then call Sums once the stream has been fully consumed.
type Tap struct {
	jsonData []byte
	simple   hash.Hash
	pw       *io.PipeWriter
	result   chan tarsumResult
}

type tarsumResult struct {
	sum string
	err error
}

// NewTap prepares checksum computation for a layer belonging to the given
// image JSON blob.
func NewTap(jsonData []byte) *Tap {
	simple := sha256.New()
	simple.Write(jsonData)
	simple.Write([]byte("\n"))

	pr, pw := io.Pipe()
	t := &Tap{
		jsonData: jsonData,
		simple:   simple,
		pw:       pw,
		result:   make(chan tarsumResult, 1),
	}
	go func() {
		sum, err := tarsum(jsonData, pr)
		// Drain whatever the tar parser left unread so the writing side
		// never blocks on a full pipe.
		io.Copy(io.Discard, pr) //nolint:errcheck
		t.result <- tarsumResult{sum: sum, err: err}
	}()
	return t
}

// Tee returns a reader that mirrors everything read from source into the
// checksum computation.
func (t *Tap) Tee(source io.Reader) io.Reader {
	return io.TeeReader(source, io.MultiWriter(t.simple, t.pw))
}

// Sums finalizes the computation and returns the checksum set. The simple
// checksum is always present; a tar parsing failure only drops the tarsum
// from the set and is reported through the returned error so callers can
// log it.
func (t *Tap) Sums() (Set, error) {
	t.pw.Close()
	res := <-t.result

	sums := Set{digest.NewDigest(digest.SHA256, t.simple).String()}
	if res.err != nil {
		return sums, fmt.Errorf("tarsum skipped: %w", res.err)
	}
	return append(sums, res.sum), nil
}
