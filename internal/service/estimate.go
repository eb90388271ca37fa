package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"estimate-service/internal/export"
	"estimate-service/internal/kinesis"
	"estimate-service/internal/metrics"
	"estimate-service/internal/paypal"
	"estimate-service/internal/pricing"
	"estimate-service/internal/storage"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrPaymentRequired     = errors.New("payment required")
	ErrMissingSubscription = errors.New("missing subscription id")
)

const (
	defaultScopeType = "snapshot"
	advisoryNotes    = "Advisory only."
	aiLowFactor      = 0.75
	aiHighFactor     = 1.25
)

// PaywallError carries the free-tier limit that was reached
type PaywallError struct {
	Limit int
}

func (e *PaywallError) Error() string {
	return fmt.Sprintf("Free limit of %d photos reached.", e.Limit)
}

func (e *PaywallError) Unwrap() error {
	return ErrPaymentRequired
}

// BidTicketExporter renders a job into a downloadable bid ticket
type BidTicketExporter interface {
	Export(ctx context.Context, job *storage.Job) (*export.Result, error)
}

// Options tune free-tier behavior
type Options struct {
	DevMode        bool
	FreePhotoLimit int
}

// UploadInput holds the parsed form fields of an upload
type UploadInput struct {
	Price       string
	Description string
	ScopeType   string
	Media       *storage.Media

	Lane       string
	StateCode  string
	City       string
	HomeValue  pricing.OptionalFloat
	RiskFactor pricing.OptionalFloat
}

// DeviceStatus is the public view of a device
type DeviceStatus struct {
	Device  string `json:"device"`
	Pro     bool   `json:"pro"`
	Uploads int    `json:"uploads"`
}

// EstimateService handles uploads, the paywall, subscriptions and exports
type EstimateService struct {
	jobs     storage.JobStorage
	devices  storage.DeviceStorage
	engine   *pricing.Engine
	verifier paypal.SubscriptionVerifier
	exporter BidTicketExporter
	streamer *kinesis.Streamer
	opts     Options
	now      func() time.Time
}

// NewEstimateService creates a new estimate service instance
func NewEstimateService(jobs storage.JobStorage, devices storage.DeviceStorage, engine *pricing.Engine, verifier paypal.SubscriptionVerifier, exporter BidTicketExporter, opts Options) *EstimateService {
	return &EstimateService{
		jobs:     jobs,
		devices:  devices,
		engine:   engine,
		verifier: verifier,
		exporter: exporter,
		opts:     opts,
		now:      time.Now,
	}
}

// SetKinesisStreamer sets the Kinesis streamer for estimate events
func (s *EstimateService) SetKinesisStreamer(streamer *kinesis.Streamer) {
	s.streamer = streamer
}

// Engine returns the pricing engine
func (s *EstimateService) Engine() *pricing.Engine {
	return s.engine
}

// CheckPaywall reports whether the device may upload another photo
func (s *EstimateService) CheckPaywall(ctx context.Context, deviceID string) error {
	if s.opts.DevMode {
		return nil
	}

	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	if device.Pro || device.Uploads < s.opts.FreePhotoLimit {
		return nil
	}

	metrics.PaywallBlockedTotal.Inc()
	slog.Info("Upload blocked by paywall", "device_id", deviceID, "uploads", device.Uploads)
	return &PaywallError{Limit: s.opts.FreePhotoLimit}
}

// Upload records a new job for the device
func (s *EstimateService) Upload(ctx context.Context, deviceID string, in UploadInput) (*storage.Job, error) {
	price := parsePrice(in.Price)
	scope := strings.TrimSpace(in.ScopeType)
	if scope == "" {
		scope = defaultScopeType
	}

	job := &storage.Job{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		CreatedAt:   s.now().UTC(),
		Price:       price,
		Description: in.Description,
		ScopeType:   scope,
		AILow:       pricing.RoundHalfUp(price * aiLowFactor),
		AIHigh:      pricing.RoundHalfUp(price * aiHighFactor),
		Notes:       advisoryNotes,
		Media:       in.Media,
	}

	if lane := strings.TrimSpace(in.Lane); lane != "" {
		quote, err := s.Suggest(pricing.Request{
			Lane:       lane,
			StateCode:  in.StateCode,
			City:       in.City,
			HomeValue:  in.HomeValue,
			RiskFactor: in.RiskFactor,
		})
		if err != nil {
			return nil, err
		}
		job.Lane = lane
		job.Quote = quote
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if job.Media != nil {
		if _, err := s.devices.IncrementUploads(ctx, deviceID); err != nil {
			return nil, fmt.Errorf("failed to count upload: %w", err)
		}
	}

	metrics.UploadsTotal.Inc()
	s.streamer.Stream(ctx, kinesis.JobEvent(kinesis.EventUploaded, job))

	slog.Info("Job uploaded", "job_id", job.ID, "device_id", deviceID, "lane", job.Lane, "has_media", job.Media != nil)
	return job, nil
}

// ListJobs returns the device's jobs, newest first
func (s *EstimateService) ListJobs(ctx context.Context, deviceID string) ([]*storage.Job, error) {
	jobs, err := s.jobs.GetJobsByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if jobs == nil {
		jobs = []*storage.Job{}
	}
	return jobs, nil
}

// Me returns the device status
func (s *EstimateService) Me(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	return &DeviceStatus{
		Device:  deviceID,
		Pro:     device.Pro,
		Uploads: device.Uploads,
	}, nil
}

// VerifySubscription confirms the subscription with the provider and marks the device pro
func (s *EstimateService) VerifySubscription(ctx context.Context, deviceID, subscriptionID string) error {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return ErrMissingSubscription
	}

	if _, err := s.verifier.VerifySubscription(ctx, subscriptionID); err != nil {
		slog.Warn("Subscription verification failed", "device_id", deviceID, "subscription_id", subscriptionID, "error", err)
		return err
	}

	sub := storage.Subscription{
		Provider:  "paypal",
		ID:        subscriptionID,
		Status:    paypal.StatusActive,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.devices.SetSubscription(ctx, deviceID, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}

	metrics.SubscriptionsVerifiedTotal.Inc()
	s.streamer.Stream(ctx, kinesis.EstimateEvent{
		EventType:      kinesis.EventSubscribed,
		DeviceID:       deviceID,
		Timestamp:      s.now().UTC(),
		SubscriptionID: subscriptionID,
	})

	slog.Info("Subscription verified", "device_id", deviceID, "subscription_id", subscriptionID)
	return nil
}

// Suggest computes a suggested price for the request
func (s *EstimateService) Suggest(req pricing.Request) (*pricing.Result, error) {
	result, err := s.engine.BuildSuggestedPrice(req)
	if err != nil {
		return nil, err
	}

	metrics.PricingSuggestionsTotal.WithLabelValues(req.Lane).Inc()
	if result.RedPen {
		metrics.PricingRedPenTotal.WithLabelValues(req.Lane).Inc()
	}
	return result, nil
}

// ExportBidTicket writes a bid ticket for one of the device's jobs and returns its URL
func (s *EstimateService) ExportBidTicket(ctx context.Context, deviceID, jobID string) (string, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.DeviceID != deviceID {
		return "", fmt.Errorf("job %s: %w", jobID, storage.ErrJobNotFound)
	}

	result, err := s.exporter.Export(ctx, job)
	if err != nil {
		return "", err
	}

	event := kinesis.JobEvent(kinesis.EventExported, job)
	event.ExportURL = result.URL
	s.streamer.Stream(ctx, event)

	slog.Info("Bid ticket exported", "job_id", job.ID, "device_id", deviceID, "format", result.Format)
	return result.URL, nil
}

// parsePrice reads a form price, treating invalid or negative input as 0
func parsePrice(s string) float64 {
	p, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return 0
	}
	return p
}
