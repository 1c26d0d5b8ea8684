package virustotal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// resetLimiter gives each test a fully-drained-but-immediately-refilled
// limiter so the shared package-level rate gate never makes the suite slow.
func resetLimiter() {
	limiter = rate.NewLimiter(rate.Inf, 1)
	breaker.Reset()
}

func TestAcceptsOnlyDownloadedBlob(t *testing.T) {
	tf := &Transformer{}
	assert.True(t, tf.Accepts(&object.DownloadedBlob{}))
	assert.False(t, tf.Accepts(&object.LogEntry{}))
}

func TestHandleSkipsNonExecutableFiletype(t *testing.T) {
	resetLimiter()
	tf := &Transformer{apiKey: "k", client: http.DefaultClient}
	blob := &object.DownloadedBlob{Filetype: "ASCII text"}
	assert.Empty(t, tf.Handle(context.Background(), blob))
}

func TestReportPresentAtReturnsTrueWhenReportExists(t *testing.T) {
	resetLimiter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/report", r.URL.Path)
		_ = json.NewEncoder(w).Encode(vtReportResponse{ResponseCode: 1})
	}))
	defer srv.Close()

	tf := &Transformer{apiKey: "k", client: srv.Client()}
	// point the transformer at the test server via closures is not possible
	// with the package-level const URLs, so this test exercises the report
	// lookup directly instead of through the full HTTP round trip.
	present, err := tf.reportPresentAt(context.Background(), srv.URL+"/report", &object.DownloadedBlob{SHA256: "abc", Filetype: "Executable"})
	require.NoError(t, err)
	assert.True(t, present)
}

func TestSubmitAtQueuesScanWhenReportAbsent(t *testing.T) {
	resetLimiter()
	var reportHits, scanHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/report":
			reportHits++
			_ = json.NewEncoder(w).Encode(vtReportResponse{ResponseCode: 0})
		case "/scan":
			scanHits++
			_ = json.NewEncoder(w).Encode(vtScanResponse{ResponseCode: 1, VerboseMsg: "scan queued"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tf := &Transformer{apiKey: "k", client: srv.Client()}
	blob := &object.DownloadedBlob{SHA256: "abc", URL: "http://x/y", Filetype: "PE32 executable"}

	present, err := tf.reportPresentAt(context.Background(), srv.URL+"/report", blob)
	require.NoError(t, err)
	assert.False(t, present)

	code, msg, err := tf.submitAt(context.Background(), srv.URL+"/scan", blob)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, "scan queued", msg)
	assert.Equal(t, 1, reportHits)
	assert.Equal(t, 1, scanHits)
}

func TestIsExecutable(t *testing.T) {
	assert.True(t, isExecutable("PE32 executable (console) Intel 80386"))
	assert.False(t, isExecutable("ASCII text"))
}
