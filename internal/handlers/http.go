package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"estimate-service/internal/media"
	"estimate-service/internal/paypal"
	"estimate-service/internal/pricing"
	"estimate-service/internal/service"
	"estimate-service/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// multipart parts beyond this are spilled to temp files
const multipartMemory = 8 << 20

// MediaSaver stores an uploaded file
type MediaSaver interface {
	Save(file multipart.File, header *multipart.FileHeader) (*storage.Media, error)
	Remove(m *storage.Media) error
}

// ClientConfig is the public configuration served to the frontend
type ClientConfig struct {
	PayPalClientID string  `json:"paypalClientId"`
	PayPalPlanID   string  `json:"paypalPlanId"`
	PayPalEnv      string  `json:"paypalEnv"`
	PaywallPrice   float64 `json:"paywallPrice"`
	FreePhotoLimit int     `json:"freePhotoLimit"`
	Dev            bool    `json:"dev"`
	VapidPublicKey string  `json:"vapidPublicKeyBase64"`
	LegalCompany   string  `json:"legalCompany"`
}

// HTTPHandler handles HTTP requests for the estimate service
type HTTPHandler struct {
	estimates      *service.EstimateService
	media          MediaSaver
	clientConfig   ClientConfig
	maxUploadBytes int64
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(estimates *service.EstimateService, media MediaSaver, clientConfig ClientConfig, maxUploadBytes int64) *HTTPHandler {
	return &HTTPHandler{
		estimates:      estimates,
		media:          media,
		clientConfig:   clientConfig,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes sets up the API routes
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/config", h.Config).Methods("GET")
	api.HandleFunc("/me", h.Me).Methods("GET")
	api.HandleFunc("/jobs/list", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/upload", h.Upload).Methods("POST")
	api.HandleFunc("/paypal/verify-subscription", h.VerifySubscription).Methods("POST")
	api.HandleFunc("/exports", h.Export).Methods("POST")
	api.HandleFunc("/pricing/suggest", h.Suggest).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// RegisterStatic serves uploads and the frontend. It must be registered after the API routes.
func RegisterStatic(router *mux.Router, prefix, uploadsDir, publicDir string) {
	uploads := http.StripPrefix(prefix+"/uploads", http.FileServer(http.Dir(uploadsDir)))
	router.PathPrefix("/uploads/").Handler(uploads).Methods("GET", "HEAD")
	router.PathPrefix("/").Handler(NewSPAHandler(publicDir, prefix)).Methods("GET", "HEAD")
}

// Health returns service health status
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"service": "workai-mvp",
		"dev":     h.clientConfig.Dev,
	})
}

// Config returns the public client configuration
func (h *HTTPHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.clientConfig)
}

// Me returns the calling device's status
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	status, err := h.estimates.Me(r.Context(), DeviceID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListJobs returns the calling device's jobs
func (h *HTTPHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.estimates.ListJobs(r.Context(), DeviceID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Upload accepts a multipart job upload with an optional media file
func (h *HTTPHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := DeviceID(ctx)

	if err := h.estimates.CheckPaywall(ctx, deviceID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	if h.maxUploadBytes > 0 {
		// Leave room for the non-file form fields
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusBadRequest, "file-too-large", "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid-form", err.Error())
		return
	}

	in := service.UploadInput{
		Price:       r.FormValue("price"),
		Description: r.FormValue("description"),
		ScopeType:   r.FormValue("scopeType"),
		Lane:        r.FormValue("lane"),
		StateCode:   r.FormValue("stateCode"),
		City:        r.FormValue("city"),
		HomeValue:   pricing.ParseOptionalFloat(r.FormValue("homeValue")),
		RiskFactor:  pricing.ParseOptionalFloat(r.FormValue("riskFactor")),
	}

	file, header, err := r.FormFile("media")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid-form", err.Error())
		return
	default:
		defer file.Close()
		saved, err := h.media.Save(file, header)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		in.Media = saved
	}

	job, err := h.estimates.Upload(ctx, deviceID, in)
	if err != nil {
		// No job references the file
		if in.Media != nil {
			if rmErr := h.media.Remove(in.Media); rmErr != nil {
				slog.Warn("Failed to remove orphaned upload", "file", in.Media.Filename, "error", rmErr)
			}
		}
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// VerifySubscriptionRequest represents a subscription verification request
type VerifySubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// VerifySubscription marks the device pro once the subscription is confirmed
func (h *HTTPHandler) VerifySubscription(w http.ResponseWriter, r *http.Request) {
	var req VerifySubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "missing", "Invalid JSON")
		return
	}

	if err := h.estimates.VerifySubscription(r.Context(), DeviceID(r.Context()), req.SubscriptionID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "pro": true})
}

// ExportRequest represents a bid ticket export request
type ExportRequest struct {
	JobID string `json:"jobId"`
}

// Export renders a bid ticket for one of the device's jobs
func (h *HTTPHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeError(w, http.StatusNotFound, "not-found", "")
		return
	}

	url, err := h.estimates.ExportBidTicket(r.Context(), DeviceID(r.Context()), req.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not-found", "")
			return
		}
		slog.Error("Export failed", "job_id", req.JobID, "error", err)
		writeError(w, http.StatusInternalServerError, "export-failed", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "url": url})
}

// Suggest computes a suggested price from a pricing request
func (h *HTTPHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req pricing.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-json", "Invalid JSON")
		return
	}

	result, err := h.estimates.Suggest(req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeServiceError maps service errors to HTTP responses
func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrPaymentRequired):
		writeError(w, http.StatusPaymentRequired, "payment-required", err.Error())
	case errors.Is(err, service.ErrMissingSubscription):
		writeError(w, http.StatusBadRequest, "missing", "")
	case errors.Is(err, pricing.ErrUnsupportedLane):
		writeError(w, http.StatusBadRequest, "unsupported-lane", "Unsupported lane or missing config.")
	case errors.Is(err, media.ErrMimeNotAllowed):
		writeError(w, http.StatusBadRequest, "mime-not-allowed", "")
	case errors.Is(err, media.ErrFileTooLarge):
		writeError(w, http.StatusBadRequest, "file-too-large", "File too large")
	case errors.Is(err, paypal.ErrSubscriptionInactive), errors.Is(err, paypal.ErrSubscriptionNotFound):
		writeError(w, http.StatusBadRequest, "subscription-inactive", err.Error())
	case errors.Is(err, storage.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not-found", "")
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": code}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}
