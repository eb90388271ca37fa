package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"estimate-service/internal/export"
	"estimate-service/internal/media"
	"estimate-service/internal/paypal"
	"estimate-service/internal/pricing"
	"estimate-service/internal/service"
	"estimate-service/internal/storage"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExporter struct{}

func (stubExporter) Export(ctx context.Context, job *storage.Job) (*export.Result, error) {
	return &export.Result{Format: export.FormatHTML, URL: "/uploads/exports/" + job.ID + ".html"}, nil
}

type testServer struct {
	router     *mux.Router
	jobs       *storage.MemoryJobStorage
	devices    *storage.MemoryDeviceStorage
	uploadsDir string
	publicDir  string
}

func newTestServer(t *testing.T, opts service.Options) *testServer {
	t.Helper()

	base := 60.0
	lo, hi := 35.0, 250.0
	engine := pricing.NewEngine(pricing.LaborIndexTable{}, pricing.TradeLaneTable{
		pricing.LaneMowing: {BaseNashville: &base, Min: &lo, Max: &hi},
	})

	ts := &testServer{
		jobs:       storage.NewMemoryJobStorage(),
		devices:    storage.NewMemoryDeviceStorage(),
		uploadsDir: t.TempDir(),
		publicDir:  t.TempDir(),
	}
	require.NoError(t, os.WriteFile(filepath.Join(ts.publicDir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ts.publicDir, "app.js"), []byte("console.log(1)"), 0o644))

	store, err := media.NewStore(ts.uploadsDir, 1<<20, []string{"image/", "video/"})
	require.NoError(t, err)

	estimates := service.NewEstimateService(ts.jobs, ts.devices, engine, paypal.TrustingVerifier{}, stubExporter{}, opts)
	handler := NewHTTPHandler(estimates, store, ClientConfig{
		PayPalEnv:      "sandbox",
		PaywallPrice:   13,
		FreePhotoLimit: opts.FreePhotoLimit,
		Dev:            opts.DevMode,
	}, 1<<20)

	ts.router = mux.NewRouter()
	handler.RegisterRoutes(ts.router)
	RegisterStatic(ts.router, "", ts.uploadsDir, ts.publicDir)
	ts.router.Use(DeviceMiddleware)
	return ts
}

func (ts *testServer) do(req *http.Request, deviceID string) *httptest.ResponseRecorder {
	if deviceID != "" {
		req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: deviceID})
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func multipartUpload(t *testing.T, fields map[string]string, filename, contentType string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="media"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		part.Write(content)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/jobs/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, service.Options{DevMode: true})

	rr := ts.do(httptest.NewRequest("GET", "/api/health", nil), "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	decode(t, rr, &body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "workai-mvp", body["service"])
	assert.Equal(t, true, body["dev"])
}

func TestDeviceMiddleware_IssuesCookie(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	rr := ts.do(httptest.NewRequest("GET", "/api/me", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DeviceCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, 365*24*60*60, cookies[0].MaxAge)

	var status service.DeviceStatus
	decode(t, rr, &status)
	assert.Equal(t, cookies[0].Value, status.Device)
}

func TestDeviceMiddleware_ReusesCookie(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	rr := ts.do(httptest.NewRequest("GET", "/api/me", nil), "device-abc")
	assert.Empty(t, rr.Result().Cookies())

	var status service.DeviceStatus
	decode(t, rr, &status)
	assert.Equal(t, "device-abc", status.Device)
}

func TestConfig(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	rr := ts.do(httptest.NewRequest("GET", "/api/config", nil), "d1")
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	decode(t, rr, &body)
	assert.Equal(t, "sandbox", body["paypalEnv"])
	assert.Equal(t, float64(13), body["paywallPrice"])
	assert.Equal(t, float64(2), body["freePhotoLimit"])
}

func TestUpload_WithMedia(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	req := multipartUpload(t, map[string]string{"price": "200", "description": "lawn"}, "my lawn.jpg", "image/jpeg", []byte("jpeg"))
	rr := ts.do(req, "d1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var job storage.Job
	decode(t, rr, &job)
	assert.Equal(t, 150, job.AILow)
	assert.Equal(t, 250, job.AIHigh)
	assert.Equal(t, "snapshot", job.ScopeType)
	require.NotNil(t, job.Media)
	assert.True(t, strings.HasSuffix(job.Media.Filename, "-my_lawn.jpg"))
	assert.Equal(t, "/uploads/"+job.Media.Filename, job.Media.URL)
	assert.FileExists(t, filepath.Join(ts.uploadsDir, job.Media.Filename))

	device, _ := ts.devices.GetDevice(context.Background(), "d1")
	assert.Equal(t, 1, device.Uploads)

	// Uploaded media is served back
	rr = ts.do(httptest.NewRequest("GET", job.Media.URL, nil), "d1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "jpeg", rr.Body.String())
}

func TestUpload_WithLane(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	req := multipartUpload(t, map[string]string{"price": "80", "lane": "mowing", "riskFactor": "bogus"}, "", "", nil)
	rr := ts.do(req, "d1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var job storage.Job
	decode(t, rr, &job)
	require.NotNil(t, job.Quote)
	assert.Equal(t, 60, job.Quote.SuggestedPrice)
	assert.Equal(t, 1.0, job.Quote.RiskFactor)
}

func TestUpload_UnsupportedLane(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	req := multipartUpload(t, map[string]string{"price": "80", "lane": "roofing"}, "a.jpg", "image/jpeg", []byte("jpeg"))
	rr := ts.do(req, "d1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "unsupported-lane", body["error"])

	// The rejected upload leaves nothing behind
	entries, err := os.ReadDir(ts.uploadsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	device, _ := ts.devices.GetDevice(context.Background(), "d1")
	assert.Equal(t, 0, device.Uploads)
}

func TestUpload_MimeNotAllowed(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	req := multipartUpload(t, map[string]string{"price": "80"}, "notes.txt", "text/plain", []byte("hi"))
	rr := ts.do(req, "d1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "mime-not-allowed", body["error"])
}

func TestUpload_Paywall(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 1})
	ts.devices.IncrementUploads(context.Background(), "d1")

	req := multipartUpload(t, map[string]string{"price": "80"}, "a.jpg", "image/jpeg", []byte("x"))
	rr := ts.do(req, "d1")
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)

	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "payment-required", body["error"])
	assert.Equal(t, "Free limit of 1 photos reached.", body["message"])
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})
	ctx := context.Background()
	ts.jobs.CreateJob(ctx, &storage.Job{ID: "mine", DeviceID: "d1"})
	ts.jobs.CreateJob(ctx, &storage.Job{ID: "theirs", DeviceID: "d2"})

	rr := ts.do(httptest.NewRequest("GET", "/api/jobs/list", nil), "d1")
	assert.Equal(t, http.StatusOK, rr.Code)

	var jobs []storage.Job
	decode(t, rr, &jobs)
	require.Len(t, jobs, 1)
	assert.Equal(t, "mine", jobs[0].ID)
}

func TestVerifySubscription(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	rr := ts.do(httptest.NewRequest("POST", "/api/paypal/verify-subscription", strings.NewReader(`{"subscriptionId":"I-1"}`)), "d1")
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]bool
	decode(t, rr, &body)
	assert.True(t, body["ok"])
	assert.True(t, body["pro"])

	device, _ := ts.devices.GetDevice(context.Background(), "d1")
	assert.True(t, device.Pro)
}

func TestVerifySubscription_Missing(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})

	rr := ts.do(httptest.NewRequest("POST", "/api/paypal/verify-subscription", strings.NewReader(`{}`)), "d1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "missing", body["error"])
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})
	ts.jobs.CreateJob(context.Background(), &storage.Job{ID: "job-1", DeviceID: "d1"})

	rr := ts.do(httptest.NewRequest("POST", "/api/exports", strings.NewReader(`{"jobId":"job-1"}`)), "d1")
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	decode(t, rr, &body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "/uploads/exports/job-1.html", body["url"])

	rr = ts.do(httptest.NewRequest("POST", "/api/exports", strings.NewReader(`{"jobId":"job-1"}`)), "d2")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSuggest(t *testing.T) {
	ts := newTestServer(t, service.Options{})

	rr := ts.do(httptest.NewRequest("POST", "/api/pricing/suggest", strings.NewReader(`{"lane":"mowing","homeValue":"n/a"}`)), "d1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var result pricing.Result
	decode(t, rr, &result)
	assert.Equal(t, 60, result.SuggestedPrice)
	assert.Equal(t, 1.0, result.HomeValueIndex)
	assert.False(t, result.RedPen)
}

func TestSuggest_UnsupportedLane(t *testing.T) {
	ts := newTestServer(t, service.Options{})

	rr := ts.do(httptest.NewRequest("POST", "/api/pricing/suggest", strings.NewReader(`{"lane":"roofing"}`)), "d1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "Unsupported lane or missing config.", body["message"])
}

func TestSPAFallback(t *testing.T) {
	ts := newTestServer(t, service.Options{})

	rr := ts.do(httptest.NewRequest("GET", "/app.js", nil), "d1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log(1)", rr.Body.String())

	rr = ts.do(httptest.NewRequest("GET", "/jobs/123", nil), "d1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<html>app</html>", rr.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("OPTIONS", "/api/me", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/me", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, service.Options{})

	rr := ts.do(httptest.NewRequest("GET", "/metrics", nil), "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "estimate_uploads_total")
}

func TestCORSMiddleware_PreflightOnRouter(t *testing.T) {
	ts := newTestServer(t, service.Options{FreePhotoLimit: 2})
	handler := CORSMiddleware(ts.router)

	for _, path := range []string{"/api/jobs/upload", "/api/pricing/suggest", "/api/exports"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("OPTIONS", path, nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST", path)
	}

	// Wrapped router still serves normal requests with CORS headers
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
