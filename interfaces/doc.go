// Package interfaces defines core interfaces and types for the blob publisher,
// separating interface definitions from implementations.
//
// # Collaborator Interfaces
//
// LedgerClient: submits signed transactions, waits for finality, and reads
// balances and objects from the ledger that anchors blob durability.
//
// Faucet: requests gas tokens on development and test networks.
//
// Encoder: turns raw bytes into a content-derived BlobID, a RootHash, shared
// BlobMetadata and the sliver pairs each storage node must hold.
//
// StorageNodeClient: sends slivers to one storage node and returns the node's
// signed NodeConfirmation.
//
// # Storage Interfaces
//
// StorageBackend: content-addressed storage used by callers to archive upload
// checkpoints and receipts (file, S3, IPFS).
//
// StorageBackendFactory: creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
//
// # Types
//
//   - BlobID: 32-byte content-derived identifier, printed as unpadded base64url
//   - RootHash: 32-byte Merkle root over sliver pair hashes
//   - ObjectID, TransactionDigest: 32-byte ledger identifiers
//   - Address: 20-byte ledger account or package address
//   - TokenType: gas token or payment token reference
//   - Committee: ordered storage nodes with weights and quorum arithmetic
package interfaces
