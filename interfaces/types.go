package interfaces

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is an account or package address on the ledger.
type Address = common.Address

// BlobID is the 32-byte content-derived identifier of an encoded blob.
type BlobID [32]byte

// NewBlobIDFromBytes creates a blob ID from a 32-byte slice.
func NewBlobIDFromBytes(source []byte) (BlobID, error) {
	if len(source) != 32 {
		return BlobID{}, errors.New("invalid BlobID conversion from bytes: incorrect length")
	}

	var id BlobID
	copy(id[:], source)
	return id, nil
}

// ParseBlobID accepts either the unpadded base64url form used by String or a
// 0x-prefixed / bare 64-character hex string.
func ParseBlobID(source string) (BlobID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) == 64 {
		raw, err := hex.DecodeString(clean)
		if err == nil {
			return NewBlobIDFromBytes(raw)
		}
	}

	raw, err := base64.RawURLEncoding.DecodeString(source)
	if err != nil {
		return BlobID{}, fmt.Errorf("invalid blob ID %q: %w", source, err)
	}
	return NewBlobIDFromBytes(raw)
}

// String returns the unpadded base64url representation.
func (id BlobID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Hex returns the 0x-prefixed hex representation.
func (id BlobID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Bytes returns the raw 32 bytes.
func (id BlobID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether the ID is unset.
func (id BlobID) IsZero() bool {
	return id == BlobID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id BlobID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *BlobID) UnmarshalText(text []byte) error {
	parsed, err := ParseBlobID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// RootHash is the Merkle root over the sliver pair hashes of an encoded blob.
type RootHash [32]byte

// String returns hex representation.
func (h RootHash) String() string {
	return hex.EncodeToString(h[:])
}

// ObjectID identifies an object on the ledger.
type ObjectID = common.Hash

// TokenType names a fungible token on the ledger. The empty string and
// NativeToken both refer to the gas token; anything else is either a plain
// token contract address or a struct tag such as "0xabc::wal::WAL".
type TokenType string

// NativeToken is the ledger's gas token.
const NativeToken TokenType = "native"

// IsNative reports whether the token refers to the gas token.
func (t TokenType) IsNative() bool {
	return t == "" || t == NativeToken
}

// ContractAddress resolves the token to the address of its contract.
func (t TokenType) ContractAddress() (Address, error) {
	if t.IsNative() {
		return Address{}, errors.New("native token has no contract address")
	}

	s := string(t)
	if strings.Contains(s, "::") {
		tag, err := ParseStructTag(s)
		if err != nil {
			return Address{}, err
		}
		return tag.Address, nil
	}

	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("invalid token type: %s", s)
	}
	return common.HexToAddress(s), nil
}

// StructTag is a fully qualified ledger type of the form address::module::Name.
type StructTag struct {
	Address Address
	Module  string
	Name    string
}

// ParseStructTag parses "0xaddress::module::Name". Generic parameters, if
// present, are ignored.
func ParseStructTag(tag string) (StructTag, error) {
	if i := strings.IndexByte(tag, '<'); i >= 0 {
		tag = tag[:i]
	}

	parts := strings.Split(tag, "::")
	if len(parts) != 3 {
		return StructTag{}, fmt.Errorf("invalid struct tag %q: expected address::module::Name", tag)
	}
	if !common.IsHexAddress(parts[0]) {
		return StructTag{}, fmt.Errorf("invalid struct tag %q: bad address", tag)
	}
	if parts[1] == "" || parts[2] == "" {
		return StructTag{}, fmt.Errorf("invalid struct tag %q: empty module or name", tag)
	}

	return StructTag{
		Address: common.HexToAddress(parts[0]),
		Module:  parts[1],
		Name:    parts[2],
	}, nil
}

// String returns the canonical lower-case form.
func (t StructTag) String() string {
	return fmt.Sprintf("%s::%s::%s", strings.ToLower(t.Address.Hex()), t.Module, t.Name)
}

// BlobObjectType returns the canonical blob object type published by a system package.
func BlobObjectType(systemPackage Address) string {
	return StructTag{Address: systemPackage, Module: "blob", Name: "Blob"}.String()
}
