// Package main (cmd/httpserver) serves the publisher HTTP API.
//
// The server accepts raw blobs, runs each upload through provisioning,
// encoding, registration, distribution and certification, and exposes the
// progress of every run until it expires from the run registry:
//
//	blob-publisher-server --config config.yml
//	blob-publisher-server --dev --dev-nodes 7
//
// The signing key of the uploading account is read from
// PUBLISHER_PRIVATE_KEY. Outside of production a .env file in the working
// directory is loaded first.
package main
