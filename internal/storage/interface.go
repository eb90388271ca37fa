package storage

import (
	"context"
	"errors"
	"time"

	"estimate-service/internal/pricing"
)

// Common errors
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// Job represents an uploaded estimate request
type Job struct {
	ID          string          `json:"id" dynamodbav:"id"`
	DeviceID    string          `json:"deviceId" dynamodbav:"device_id"`
	CreatedAt   time.Time       `json:"createdAt" dynamodbav:"created_at"`
	Price       float64         `json:"price" dynamodbav:"price"`
	Description string          `json:"description" dynamodbav:"description"`
	ScopeType   string          `json:"scopeType" dynamodbav:"scope_type"`
	AILow       int             `json:"aiLow" dynamodbav:"ai_low"`
	AIHigh      int             `json:"aiHigh" dynamodbav:"ai_high"`
	Notes       string          `json:"notes" dynamodbav:"notes"`
	Media       *Media          `json:"media,omitempty" dynamodbav:"media,omitempty"`
	Lane        string          `json:"lane,omitempty" dynamodbav:"lane,omitempty"`
	Quote       *pricing.Result `json:"quote,omitempty" dynamodbav:"quote,omitempty"`
}

// Media describes a stored upload
type Media struct {
	Filename string `json:"filename" dynamodbav:"filename"`
	Mimetype string `json:"mimetype" dynamodbav:"mimetype"`
	Size     int64  `json:"size" dynamodbav:"size"`
	URL      string `json:"url" dynamodbav:"url"`
}

// Device tracks free-tier usage and subscription state for an anonymous device
type Device struct {
	ID           string        `json:"id" dynamodbav:"id"`
	Pro          bool          `json:"pro" dynamodbav:"pro"`
	Uploads      int           `json:"uploads" dynamodbav:"uploads"`
	Subscription *Subscription `json:"subscription,omitempty" dynamodbav:"subscription,omitempty"`
}

// Subscription records a verified payment-provider subscription
type Subscription struct {
	Provider  string    `json:"provider" dynamodbav:"provider"`
	ID        string    `json:"id" dynamodbav:"id"`
	Status    string    `json:"status" dynamodbav:"status"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// JobStorage defines the interface for job data operations
type JobStorage interface {
	// CreateJob adds a new job
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// GetJobsByDevice finds jobs uploaded by a device
	GetJobsByDevice(ctx context.Context, deviceID string) ([]*Job, error)
}

// DeviceStorage defines the interface for device usage and subscription state
type DeviceStorage interface {
	// GetDevice returns the device record, or a fresh record for unknown devices
	GetDevice(ctx context.Context, deviceID string) (*Device, error)

	// IncrementUploads bumps the device's upload counter and returns the new value
	IncrementUploads(ctx context.Context, deviceID string) (int, error)

	// SetSubscription stores the subscription and marks the device as pro
	SetSubscription(ctx context.Context, deviceID string, sub Subscription) error
}
