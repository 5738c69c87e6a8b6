/*
Package httpserver implements the publisher HTTP API on top of the upload
orchestrator.

An upload is started by posting the raw blob and is then tracked in an
in-memory run registry until it expires:

	POST /api/v1/blobs?epochs=5&deletable=false&wait=false   start an upload
	GET  /api/v1/uploads/{id}                                phase, status, result or error
	POST /api/v1/uploads/{id}/resume                         retry certification of a failed run
	POST /api/v1/checkpoints/{id}/resume                     retry from an archived checkpoint

Without wait the publish request answers 202 with the run status and a
Location header. With wait=true it blocks until the run is terminal.

A run that fails while certifying with a confirmed quorum keeps a checkpoint.
When an archive is configured the checkpoint is stored there too and its id
is reported as checkpoint_id, so certification can be retried after the run
left the registry. Receipts of certified uploads are archived the same way.

# Operations

	GET /livez     liveness
	GET /readyz    readiness, 503 while drained
	GET /drain     mark not ready; new uploads are rejected with 503
	GET /undrain   mark ready

Prometheus metrics are served on a separate address, and pprof is mounted
under /debug when enabled.
*/
package httpserver
