// Package contracts holds the ABIs of the on-ledger blob system, the token
// exchange and ERC-20 balance queries, with typed pack/unpack helpers.
package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/blob-publisher/interfaces"
)

// SystemABI is the interface of the blob system contract.
const SystemABI = `[
	{"type":"function","name":"registerBlob","stateMutability":"nonpayable","inputs":[
		{"name":"blobId","type":"bytes32"},
		{"name":"rootHash","type":"bytes32"},
		{"name":"size","type":"uint64"},
		{"name":"encodingType","type":"uint8"},
		{"name":"deletable","type":"bool"},
		{"name":"epochs","type":"uint32"},
		{"name":"owner","type":"address"}],"outputs":[]},
	{"type":"function","name":"certifyBlob","stateMutability":"nonpayable","inputs":[
		{"name":"objectId","type":"bytes32"},
		{"name":"blobId","type":"bytes32"},
		{"name":"deletable","type":"bool"},
		{"name":"signers","type":"uint16[]"},
		{"name":"signatures","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"getObject","stateMutability":"view","inputs":[
		{"name":"objectId","type":"bytes32"}],"outputs":[
		{"name":"objectType","type":"string"},
		{"name":"data","type":"bytes"}]},
	{"type":"event","name":"ObjectCreated","anonymous":false,"inputs":[
		{"name":"objectId","type":"bytes32","indexed":true},
		{"name":"objectType","type":"string","indexed":false}]}
]`

// ExchangeABI is the interface of the fixed-rate gas/payment token exchange.
const ExchangeABI = `[
	{"type":"function","name":"exchangeAllForPayment","stateMutability":"payable","inputs":[
		{"name":"exchangeId","type":"bytes32"}],"outputs":[]}
]`

// ERC20ABI is the subset of ERC-20 used for payment token balances.
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],"outputs":[
		{"name":"","type":"uint256"}]}
]`

var (
	systemABI   = mustParse(SystemABI)
	exchangeABI = mustParse(ExchangeABI)
	erc20ABI    = mustParse(ERC20ABI)

	// ErrUnexpectedCall is returned when call data does not match the expected method.
	ErrUnexpectedCall = errors.New("unexpected call data")
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return parsed
}

// RegisterBlobParams are the arguments of registerBlob.
type RegisterBlobParams struct {
	BlobID       interfaces.BlobID
	RootHash     interfaces.RootHash
	Size         uint64
	EncodingType interfaces.EncodingType
	Deletable    bool
	Epochs       uint32
	Owner        common.Address
}

// PackRegisterBlob encodes a registerBlob call.
func PackRegisterBlob(p RegisterBlobParams) ([]byte, error) {
	return systemABI.Pack("registerBlob",
		[32]byte(p.BlobID), [32]byte(p.RootHash), p.Size, uint8(p.EncodingType), p.Deletable, p.Epochs, p.Owner)
}

// UnpackRegisterBlob decodes registerBlob call data.
func UnpackRegisterBlob(data []byte) (*RegisterBlobParams, error) {
	args, err := unpackCall(systemABI, "registerBlob", data)
	if err != nil {
		return nil, err
	}

	return &RegisterBlobParams{
		BlobID:       interfaces.BlobID(args[0].([32]byte)),
		RootHash:     interfaces.RootHash(args[1].([32]byte)),
		Size:         args[2].(uint64),
		EncodingType: interfaces.EncodingType(args[3].(uint8)),
		Deletable:    args[4].(bool),
		Epochs:       args[5].(uint32),
		Owner:        args[6].(common.Address),
	}, nil
}

// CertifyBlobParams are the arguments of certifyBlob.
type CertifyBlobParams struct {
	ObjectID   interfaces.ObjectID
	BlobID     interfaces.BlobID
	Deletable  bool
	Signers    []uint16
	Signatures [][]byte
}

// PackCertifyBlob encodes a certifyBlob call.
func PackCertifyBlob(p CertifyBlobParams) ([]byte, error) {
	if len(p.Signers) != len(p.Signatures) {
		return nil, fmt.Errorf("signers/signatures length mismatch: %d != %d", len(p.Signers), len(p.Signatures))
	}
	return systemABI.Pack("certifyBlob",
		[32]byte(p.ObjectID), [32]byte(p.BlobID), p.Deletable, p.Signers, p.Signatures)
}

// UnpackCertifyBlob decodes certifyBlob call data.
func UnpackCertifyBlob(data []byte) (*CertifyBlobParams, error) {
	args, err := unpackCall(systemABI, "certifyBlob", data)
	if err != nil {
		return nil, err
	}

	return &CertifyBlobParams{
		ObjectID:   common.Hash(args[0].([32]byte)),
		BlobID:     interfaces.BlobID(args[1].([32]byte)),
		Deletable:  args[2].(bool),
		Signers:    args[3].([]uint16),
		Signatures: args[4].([][]byte),
	}, nil
}

// PackGetObject encodes a getObject call.
func PackGetObject(id interfaces.ObjectID) ([]byte, error) {
	return systemABI.Pack("getObject", [32]byte(id))
}

// UnpackGetObject decodes the return data of getObject.
func UnpackGetObject(out []byte) (string, []byte, error) {
	values, err := systemABI.Unpack("getObject", out)
	if err != nil {
		return "", nil, err
	}
	if len(values) != 2 {
		return "", nil, fmt.Errorf("getObject returned %d values", len(values))
	}
	return values[0].(string), values[1].([]byte), nil
}

// ObjectCreatedTopic is the topic of the ObjectCreated event.
func ObjectCreatedTopic() common.Hash {
	return systemABI.Events["ObjectCreated"].ID
}

// PackObjectCreated encodes the non-indexed data of an ObjectCreated log.
func PackObjectCreated(objectType string) ([]byte, error) {
	return systemABI.Events["ObjectCreated"].Inputs.NonIndexed().Pack(objectType)
}

// UnpackObjectCreated decodes an ObjectCreated log.
func UnpackObjectCreated(log *types.Log) (interfaces.CreatedObject, error) {
	if len(log.Topics) != 2 || log.Topics[0] != ObjectCreatedTopic() {
		return interfaces.CreatedObject{}, fmt.Errorf("%w: not an ObjectCreated log", ErrUnexpectedCall)
	}

	values, err := systemABI.Unpack("ObjectCreated", log.Data)
	if err != nil {
		return interfaces.CreatedObject{}, err
	}

	return interfaces.CreatedObject{
		ObjectID:   log.Topics[1],
		ObjectType: values[0].(string),
	}, nil
}

// PackExchangeAllForPayment encodes an exchange call.
func PackExchangeAllForPayment(exchangeID interfaces.ObjectID) ([]byte, error) {
	return exchangeABI.Pack("exchangeAllForPayment", [32]byte(exchangeID))
}

// UnpackExchangeAllForPayment decodes exchange call data.
func UnpackExchangeAllForPayment(data []byte) (interfaces.ObjectID, error) {
	args, err := unpackCall(exchangeABI, "exchangeAllForPayment", data)
	if err != nil {
		return interfaces.ObjectID{}, err
	}
	return common.Hash(args[0].([32]byte)), nil
}

// PackBalanceOf encodes an ERC-20 balanceOf call.
func PackBalanceOf(account common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", account)
}

// UnpackBalanceOf decodes the return data of balanceOf.
func UnpackBalanceOf(out []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// MethodName returns the name of the system or exchange method the call data
// targets, or an empty string.
func MethodName(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	for _, parsed := range []abi.ABI{systemABI, exchangeABI} {
		if m, err := parsed.MethodById(data[:4]); err == nil {
			return m.Name
		}
	}
	return ""
}

func unpackCall(parsed abi.ABI, name string, data []byte) ([]interface{}, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: short call data", ErrUnexpectedCall)
	}

	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedCall, err)
	}
	if method.Name != name {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedCall, method.Name, name)
	}

	return method.Inputs.Unpack(data[4:])
}
