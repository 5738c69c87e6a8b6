package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/blob-publisher/encoder"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/ruteri/blob-publisher/ledger"
	"github.com/ruteri/blob-publisher/storage"
	"github.com/ruteri/blob-publisher/storagenode"
	"github.com/ruteri/blob-publisher/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	systemPkg = common.HexToAddress("0x0000000000000000000000000000000000005157")
	owner     = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	testLog   = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type testAPI struct {
	ledger  *ledger.MemoryLedger
	network *storagenode.MemoryNetwork
	handler *Handler
	server  *Server
	archive *storage.Archive
}

func newTestAPI(t *testing.T, withArchive bool) *testAPI {
	t.Helper()

	network, nodes, err := storagenode.NewMemoryNetwork(4)
	require.NoError(t, err)
	committee, err := interfaces.NewCommittee(nodes)
	require.NoError(t, err)
	enc, err := encoder.NewDevEncoder(committee)
	require.NoError(t, err)

	mem := ledger.NewMemoryLedger(systemPkg)
	mem.SetCommittee(committee)
	mem.SetBalance(owner, interfaces.NativeToken, big.NewInt(1_000_000))

	orchestrator, err := upload.NewOrchestrator(upload.Config{
		SystemPackage:        systemPkg,
		NodeTimeout:          time.Second,
		DistributionDeadline: 2 * time.Second,
		VerifyCertified:      true,
	}, committee, mem, enc, network, nil, testLog)
	require.NoError(t, err)

	api := &testAPI{ledger: mem, network: network}
	var archive CheckpointArchive
	if withArchive {
		backend, err := storage.NewFileBackend(t.TempDir(), testLog)
		require.NoError(t, err)
		api.archive = storage.NewArchive(backend, testLog)
		archive = api.archive
	}

	api.handler = NewHandler(orchestrator, archive, HandlerConfig{Owner: owner, MaxBodySize: 1024}, testLog)
	api.server, err = New(&HTTPServerConfig{Log: testLog, GracefulShutdownDuration: time.Second}, api.handler)
	require.NoError(t, err)
	orchestrator.SetMetrics(api.server.Metrics())

	t.Cleanup(api.handler.Close)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	a.server.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) UploadStatus {
	t.Helper()
	var st UploadStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st), rr.Body.String())
	return st
}

func TestHandlePublish_Wait(t *testing.T) {
	api := newTestAPI(t, true)

	rr := api.do(t, http.MethodPost, "/api/v1/blobs?wait=true&epochs=2", []byte("hello publisher"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	st := decodeStatus(t, rr)
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, upload.PhaseSucceeded, st.Phase)
	assert.Equal(t, "Blob uploaded", st.Status)
	require.NotNil(t, st.Result)
	assert.Equal(t, interfaces.BlobCertified, st.Result.Status)
	assert.Equal(t, owner, st.Result.Owner)
	assert.Equal(t, st.Result.BlobID.String(), st.BlobID)
	assert.Empty(t, st.Error)
	assert.False(t, st.Resumable)
	require.NotEmpty(t, st.ReceiptID)

	receiptID, err := interfaces.ParseContentID(st.ReceiptID)
	require.NoError(t, err)
	receipt, err := api.archive.LoadReceipt(t.Context(), receiptID)
	require.NoError(t, err)
	assert.Equal(t, st.Result.BlobID, receipt.BlobID)

	rr = api.do(t, http.MethodGet, "/api/v1/uploads/"+st.RunID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, st, decodeStatus(t, rr))
}

func TestHandlePublish_Async(t *testing.T) {
	api := newTestAPI(t, false)

	rr := api.do(t, http.MethodPost, "/api/v1/blobs?deletable=true", []byte("async blob"))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	st := decodeStatus(t, rr)
	require.NotEmpty(t, st.RunID)
	assert.Equal(t, "/api/v1/uploads/"+st.RunID, rr.Header().Get("Location"))

	require.Eventually(t, func() bool {
		rr := api.do(t, http.MethodGet, "/api/v1/uploads/"+st.RunID, nil)
		return rr.Code == http.StatusOK && decodeStatus(t, rr).Phase == upload.PhaseSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	final := decodeStatus(t, api.do(t, http.MethodGet, "/api/v1/uploads/"+st.RunID, nil))
	require.NotNil(t, final.Result)
	assert.True(t, final.Result.Deletable)
	assert.Empty(t, final.ReceiptID)
}

func TestHandlePublish_BadRequests(t *testing.T) {
	api := newTestAPI(t, false)

	tests := []struct {
		name     string
		query    string
		body     []byte
		wantCode int
	}{
		{"empty body", "", nil, http.StatusBadRequest},
		{"epochs not a number", "?epochs=abc", []byte("x"), http.StatusBadRequest},
		{"zero epochs", "?epochs=0", []byte("x"), http.StatusBadRequest},
		{"bad deletable", "?deletable=maybe", []byte("x"), http.StatusBadRequest},
		{"bad wait", "?wait=soon", []byte("x"), http.StatusBadRequest},
		{"too large", "", bytes.Repeat([]byte("x"), 2048), http.StatusRequestEntityTooLarge},
		{"epochs above maximum", "?wait=true&epochs=1000", []byte("x"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/api/v1/blobs"+tt.query, tt.body)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), `"error"`)
		})
	}

	assert.Empty(t, api.ledger.Submitted())
}

func TestHandleStatus_Unknown(t *testing.T) {
	api := newTestAPI(t, false)

	rr := api.do(t, http.MethodGet, "/api/v1/uploads/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleResume(t *testing.T) {
	api := newTestAPI(t, true)
	api.ledger.FailNext(interfaces.CertifyBlobTx, "epoch change")

	rr := api.do(t, http.MethodPost, "/api/v1/blobs?wait=true", []byte("certify me later"))
	require.Equal(t, http.StatusBadGateway, rr.Code, rr.Body.String())

	st := decodeStatus(t, rr)
	assert.Equal(t, upload.PhaseFailed, st.Phase)
	assert.True(t, st.Resumable)
	assert.NotEmpty(t, st.BlobID)
	assert.NotEmpty(t, st.ObjectID)
	assert.Contains(t, st.Error, "certifying")
	assert.NotEmpty(t, st.CheckpointID)

	rr = api.do(t, http.MethodPost, "/api/v1/uploads/"+st.RunID+"/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resumed := decodeStatus(t, rr)
	assert.Equal(t, upload.PhaseSucceeded, resumed.Phase)
	assert.False(t, resumed.Resumable)
	assert.Empty(t, resumed.Error)
	require.NotNil(t, resumed.Result)
	assert.Equal(t, interfaces.BlobCertified, resumed.Result.Status)
	assert.NotEmpty(t, resumed.ReceiptID)

	obj, err := api.ledger.BlobObject(resumed.Result.ObjectID)
	require.NoError(t, err)
	assert.True(t, obj.Certified)

	rr = api.do(t, http.MethodPost, "/api/v1/uploads/"+st.RunID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandleResume_NotResumable(t *testing.T) {
	api := newTestAPI(t, false)
	api.ledger.FailNext(interfaces.RegisterBlobTx, "insufficient storage")

	rr := api.do(t, http.MethodPost, "/api/v1/blobs?wait=true", []byte("never registered"))
	require.Equal(t, http.StatusBadGateway, rr.Code, rr.Body.String())
	st := decodeStatus(t, rr)
	assert.False(t, st.Resumable)
	assert.Empty(t, st.CheckpointID)

	rr = api.do(t, http.MethodPost, "/api/v1/uploads/"+st.RunID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = api.do(t, http.MethodPost, "/api/v1/uploads/unknown/resume", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleResumeCheckpoint(t *testing.T) {
	api := newTestAPI(t, true)
	api.ledger.FailNext(interfaces.CertifyBlobTx, "epoch change")

	st := decodeStatus(t, api.do(t, http.MethodPost, "/api/v1/blobs?wait=true", []byte("archived checkpoint")))
	require.NotEmpty(t, st.CheckpointID)

	rr := api.do(t, http.MethodPost, "/api/v1/checkpoints/"+st.CheckpointID+"/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var result upload.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, interfaces.BlobCertified, result.Status)
	assert.Equal(t, st.BlobID, result.BlobID.String())

	tests := []struct {
		name     string
		id       string
		wantCode int
	}{
		{"malformed id", "zz", http.StatusBadRequest},
		{"unknown id", strings.Repeat("ab", 32), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/api/v1/checkpoints/"+tt.id+"/resume", nil)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
		})
	}
}

func TestHandleResumeCheckpoint_NoArchive(t *testing.T) {
	api := newTestAPI(t, false)

	rr := api.do(t, http.MethodPost, "/api/v1/checkpoints/"+strings.Repeat("ab", 32)+"/resume", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
