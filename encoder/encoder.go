// Package encoder implements a deterministic development encoder producing
// sliver pairs for a storage committee.
//
// The encoding is not an erasure code: every primary sliver is a plain chunk
// of the input and every secondary sliver is the XOR of two neighbouring
// primaries. It exists so that local networks and tests exercise the full
// upload workflow with realistic identifiers and metadata. Production
// deployments plug a real encoder in through interfaces.Encoder.
//
// Identifiers are derived as follows:
//
//	sliver hash  = blake2b-256(sliver)
//	leaf         = blake2b-256(primary hash || secondary hash)
//	root hash    = binary Merkle root over leaves (odd nodes are promoted)
//	blob id      = blake2b-256(encoding type || big-endian length || root hash)
package encoder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ruteri/blob-publisher/interfaces"
	"golang.org/x/crypto/blake2b"
)

// ErrEmptyBlob is returned when asked to encode zero bytes.
var ErrEmptyBlob = errors.New("cannot encode empty blob")

// DevEncoder splits blobs into one sliver pair per committee shard.
type DevEncoder struct {
	committee *interfaces.Committee
}

// NewDevEncoder creates an encoder for the given committee.
func NewDevEncoder(committee *interfaces.Committee) (*DevEncoder, error) {
	if committee == nil || len(committee.Nodes) == 0 {
		return nil, errors.New("encoder requires a non-empty committee")
	}
	if committee.TotalWeight() > uint64(^uint16(0)) {
		return nil, fmt.Errorf("committee weight %d exceeds sliver index range", committee.TotalWeight())
	}
	return &DevEncoder{committee: committee}, nil
}

// Encode implements interfaces.Encoder.
func (e *DevEncoder) Encode(ctx context.Context, data []byte) (*interfaces.EncodedBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyBlob
	}

	shards := int(e.committee.TotalWeight())
	primaries := split(data, shards)

	pairs := make([]interfaces.SliverPair, shards)
	hashes := make([]interfaces.SliverPairHash, shards)
	leaves := make([][32]byte, shards)
	for i := range primaries {
		secondary := xor(primaries[i], primaries[(i+1)%shards])
		pairs[i] = interfaces.SliverPair{
			Index:     uint16(i),
			Primary:   primaries[i],
			Secondary: secondary,
		}
		hashes[i] = interfaces.SliverPairHash{
			Primary:   blake2b.Sum256(primaries[i]),
			Secondary: blake2b.Sum256(secondary),
		}
		leaves[i] = blake2b.Sum256(append(hashes[i].Primary[:], hashes[i].Secondary[:]...))
	}

	root := interfaces.RootHash(merkleRoot(leaves))
	blobID := ComputeBlobID(interfaces.RedStuffEncoding, uint64(len(data)), root)

	return &interfaces.EncodedBlob{
		BlobID:   blobID,
		RootHash: root,
		Metadata: interfaces.BlobMetadata{
			EncodingType:    interfaces.RedStuffEncoding,
			UnencodedLength: uint64(len(data)),
			Hashes:          hashes,
		},
		SliversByNode: e.assign(pairs),
	}, nil
}

// ComputeBlobID derives the blob ID from the encoding parameters and root hash.
func ComputeBlobID(encoding interfaces.EncodingType, length uint64, root interfaces.RootHash) interfaces.BlobID {
	buf := make([]byte, 0, 1+8+len(root))
	buf = append(buf, byte(encoding))
	buf = binary.BigEndian.AppendUint64(buf, length)
	buf = append(buf, root[:]...)
	return interfaces.BlobID(blake2b.Sum256(buf))
}

// assign hands out consecutive pair indices to nodes in committee order,
// each node receiving as many pairs as its weight.
func (e *DevEncoder) assign(pairs []interfaces.SliverPair) map[string][]interfaces.SliverPair {
	out := make(map[string][]interfaces.SliverPair, len(e.committee.Nodes))
	next := 0
	for _, node := range e.committee.Nodes {
		end := next + int(node.Weight)
		out[node.ID] = pairs[next:end]
		next = end
	}
	return out
}

// split cuts data into n equally sized zero-padded chunks.
func split(data []byte, n int) [][]byte {
	size := (len(data) + n - 1) / n
	chunks := make([][]byte, n)
	for i := range chunks {
		chunk := make([]byte, size)
		start := i * size
		if start < len(data) {
			copy(chunk, data[start:min(start+size, len(data))])
		}
		chunks[i] = chunk
	}
	return chunks
}

func xor(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func merkleRoot(leaves [][32]byte) [32]byte {
	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, blake2b.Sum256(append(level[i][:], level[i+1][:]...)))
		}
		level = next
	}
	return level[0]
}
