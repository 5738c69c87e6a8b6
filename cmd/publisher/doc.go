// Package main (cmd/publisher) is a command line client that uploads blobs
// and inspects the ledger state of the uploading account.
//
//	blob-publisher --config config.yml upload ./file.bin --epochs 5
//	blob-publisher --config config.yml resume --checkpoint-file checkpoint.json
//	blob-publisher --config config.yml balance
//	blob-publisher --config config.yml object 0x...
//
// An upload that fails after a quorum of storage nodes confirmed leaves a
// checkpoint, written to --checkpoint-out and to the configured archive,
// from which the resume command retries certification alone.
package main
