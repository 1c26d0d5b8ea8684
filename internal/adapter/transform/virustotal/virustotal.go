// Package virustotal implements the VirusTotal submitter reemitter (spec
// §4.5): it submits executable DownloadedBlob content to VirusTotal unless
// a report already exists for its digest, rate-limited class-wide to 4
// requests per minute per the original service's published API limit.
package virustotal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
	"github.com/kestrelio/recursid/internal/telemetry"
)

const (
	reportURL = "https://www.virustotal.com/vtapi/v2/file/report"
	scanURL   = "https://www.virustotal.com/vtapi/v2/file/scan"

	// vtRate is VirusTotal's published public-API ceiling: 4 requests/min.
	vtRate = 4.0 / 60.0

	requestTimeout = 30 * time.Second
)

// limiter is shared by every Transformer instance in the process, matching
// the original class-level rate gate: VirusTotal's quota is per API key,
// not per worker.
var limiter = rate.NewLimiter(rate.Limit(vtRate), 1)

// breaker trips after repeated VirusTotal failures so a prolonged outage
// stops burning the shared rate budget on requests doomed to fail.
var breaker = telemetry.GetCircuitBreaker("virustotal", 5, 2*time.Minute)

// Transformer submits DownloadedBlob objects of an executable filetype to
// VirusTotal.
type Transformer struct {
	apiKey string
	client *http.Client
}

// New constructs a virustotal_submitter transformer. Configuration:
// api_key (required) - the VirusTotal API key.
func New(kw map[string]any) (module.Transformer, error) {
	apiKey, err := kwargs.RequiredString(kw, "api_key")
	if err != nil {
		return nil, fmt.Errorf("op=virustotal.New: %w", err)
	}
	return &Transformer{
		apiKey: apiKey,
		client: &http.Client{Timeout: requestTimeout},
	}, nil
}

func init() {
	if err := registry.RegisterTransformer("virustotal_submitter", func(kw map[string]any) (module.Transformer, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Accepts reports whether o is a DownloadedBlob.
func (t *Transformer) Accepts(o object.Object) bool {
	return o.Kind() == object.KindDownloadedBlob
}

// Handle submits the blob to VirusTotal if it is an executable and has no
// existing report, emitting a LogEntry describing the outcome.
func (t *Transformer) Handle(ctx context.Context, in object.Object) []object.Object {
	blob, ok := in.(*object.DownloadedBlob)
	if !ok {
		return nil
	}
	if !isExecutable(blob.Filetype) {
		return nil
	}

	present, err := t.reportPresent(ctx, blob)
	if err != nil {
		return []object.Object{&object.LogEntry{
			Source: "virustotal_submitter",
			Line:   fmt.Sprintf("VirusTotal report lookup failed for %s: %v", blob.URL, err),
		}}
	}
	if present {
		return []object.Object{&object.LogEntry{
			Source: "virustotal_submitter",
			Line:   fmt.Sprintf("hash already submitted: %s", blob.SHA256),
		}}
	}

	code, msg, err := t.submit(ctx, blob)
	if err != nil {
		return []object.Object{&object.LogEntry{
			Source: "virustotal_submitter",
			Line:   fmt.Sprintf("VirusTotal submission failed for %s: %v", blob.URL, err),
		}}
	}
	return []object.Object{&object.LogEntry{
		Source: "virustotal_submitter",
		Line: fmt.Sprintf("submitted URL %s hash %s to VirusTotal with response code %d response %s",
			blob.URL, blob.SHA256, code, msg),
	}}
}

func isExecutable(filetype string) bool {
	return strings.Contains(filetype, "Executable")
}

type vtReportResponse struct {
	ResponseCode int `json:"response_code"`
}

func (t *Transformer) reportPresent(ctx context.Context, blob *object.DownloadedBlob) (bool, error) {
	return t.reportPresentAt(ctx, reportURL, blob)
}

func (t *Transformer) reportPresentAt(ctx context.Context, endpoint string, blob *object.DownloadedBlob) (bool, error) {
	var resp vtReportResponse
	err := t.doAPIRequest(ctx, func(ctx context.Context) (*http.Request, error) {
		q := url.Values{"apikey": {t.apiKey}, "resource": {blob.SHA256}}
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.ResponseCode == 1, nil
}

type vtScanResponse struct {
	ResponseCode int    `json:"response_code"`
	VerboseMsg   string `json:"verbose_msg"`
}

func (t *Transformer) submit(ctx context.Context, blob *object.DownloadedBlob) (int, string, error) {
	return t.submitAt(ctx, scanURL, blob)
}

func (t *Transformer) submitAt(ctx context.Context, endpoint string, blob *object.DownloadedBlob) (int, string, error) {
	var resp vtScanResponse
	err := t.doAPIRequest(ctx, func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := multipartBody(blob)
		if err != nil {
			return nil, err
		}
		q := url.Values{"apikey": {t.apiKey}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+q.Encode(), body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, &resp)
	if err != nil {
		return 0, "", err
	}
	return resp.ResponseCode, resp.VerboseMsg, nil
}

func multipartBody(blob *object.DownloadedBlob) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", blob.URL)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(blob.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// doAPIRequest issues the request built by buildReq, retries transient
// failures with an exponential backoff, and decodes a 200 response body as
// JSON into out. Every attempt, retries included, first waits on the
// class-wide rate limiter.
func (t *Transformer) doAPIRequest(ctx context.Context, buildReq func(context.Context) (*http.Request, error), out any) error {
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 2 * time.Minute
	bo := backoff.WithContext(expo, ctx)

	op := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		req, err := buildReq(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(fmt.Errorf("virustotal request failed with code %d", resp.StatusCode))
			}
			return fmt.Errorf("virustotal request failed with code %d", resp.StatusCode)
		}
		return json.Unmarshal(body, out)
	}

	err := breaker.Call(func() error {
		return backoff.Retry(op, bo)
	})
	if err != nil {
		return fmt.Errorf("op=virustotal.doAPIRequest: %w", err)
	}
	return nil
}
