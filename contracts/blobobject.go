package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/blob-publisher/interfaces"
)

// BlobObject is the decoded data of a blob object as returned by getObject.
type BlobObject struct {
	BlobID    interfaces.BlobID
	Owner     common.Address
	Size      uint64
	Deletable bool
	EndEpoch  uint32
	Certified bool
}

var blobObjectArgs = mustArguments("bytes32", "address", "uint64", "bool", "uint32", "bool")

func mustArguments(typeNames ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(typeNames))
	for _, name := range typeNames {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(fmt.Sprintf("invalid abi type %s: %v", name, err))
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

// EncodeBlobObject encodes blob object data the way the system contract stores it.
func EncodeBlobObject(obj BlobObject) ([]byte, error) {
	return blobObjectArgs.Pack([32]byte(obj.BlobID), obj.Owner, obj.Size, obj.Deletable, obj.EndEpoch, obj.Certified)
}

// DecodeBlobObject decodes blob object data.
func DecodeBlobObject(data []byte) (*BlobObject, error) {
	values, err := blobObjectArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("could not decode blob object: %w", err)
	}

	return &BlobObject{
		BlobID:    interfaces.BlobID(values[0].([32]byte)),
		Owner:     values[1].(common.Address),
		Size:      values[2].(uint64),
		Deletable: values[3].(bool),
		EndEpoch:  values[4].(uint32),
		Certified: values[5].(bool),
	}, nil
}
