// Package storage archives upload checkpoints and receipts in
// content-addressed storage with pluggable backends:
//
//   - File system storage for local use and tests
//   - S3-compatible object storage
//   - The mutable file system of an IPFS node
//
// # Storage URI Format
//
// Backends are selected by URI:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Examples:
//
//   - file:///var/lib/blob-publisher
//   - s3://bucket-name/prefix?region=us-west-2&path_style=true
//   - ipfs://127.0.0.1:5001/blob-publisher?timeout=30s
//
// Several URIs can be combined with StorageBackendFactory.CreateMultiBackend,
// which writes to every available backend and reads from the first backend
// holding the content.
//
// # Content Addressing
//
// Content is identified by the SHA-256 hash of its bytes. Checkpoints and
// receipts live in separate namespaces, so the same ID never resolves to
// content of the other type.
//
// # Archive
//
// Archive stores upload.Checkpoint values of uploads that failed during
// certification, and upload.Result receipts of certified uploads, as JSON.
// A saved checkpoint can be loaded later and passed to
// upload.Orchestrator.ResumeCertification.
package storage
