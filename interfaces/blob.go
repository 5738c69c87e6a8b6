package interfaces

import (
	"context"
)

// EncodingType identifies the encoding that produced a blob's slivers.
type EncodingType uint8

const (
	// RedStuffEncoding is the two-dimensional encoding used by the network.
	RedStuffEncoding EncodingType = 1
)

// SliverType distinguishes the two slivers of a pair.
type SliverType string

const (
	PrimarySliver   SliverType = "primary"
	SecondarySliver SliverType = "secondary"
)

// SliverPair holds the primary and secondary sliver stored under one pair index.
type SliverPair struct {
	Index     uint16 `json:"index"`
	Primary   []byte `json:"primary"`
	Secondary []byte `json:"secondary"`
}

// SliverPairHash commits to both slivers of a pair.
type SliverPairHash struct {
	Primary   [32]byte `json:"primary"`
	Secondary [32]byte `json:"secondary"`
}

// BlobMetadata is shared by every storage node receiving slivers of a blob.
type BlobMetadata struct {
	EncodingType    EncodingType     `json:"encoding_type"`
	UnencodedLength uint64           `json:"unencoded_length"`
	Hashes          []SliverPairHash `json:"hashes"`
}

// EncodedBlob is the output of an Encoder. It is owned by one upload run and
// consumed once by distribution.
type EncodedBlob struct {
	BlobID   BlobID
	RootHash RootHash
	Metadata BlobMetadata
	// SliversByNode maps storage node IDs to the sliver pairs they must store.
	SliversByNode map[string][]SliverPair
}

// Size returns the unencoded length of the blob.
func (b *EncodedBlob) Size() uint64 {
	return b.Metadata.UnencodedLength
}

// Encoder turns raw bytes into an encoded blob. Implementations must be
// deterministic: encoding the same bytes twice yields the same BlobID and RootHash.
type Encoder interface {
	Encode(ctx context.Context, data []byte) (*EncodedBlob, error)
}
