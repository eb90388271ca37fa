package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryJobStorage implements JobStorage using in-memory maps
type MemoryJobStorage struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewMemoryJobStorage creates a new in-memory storage instance
func NewMemoryJobStorage() *MemoryJobStorage {
	return &MemoryJobStorage{
		jobs: make(map[string]*Job),
	}
}

func (m *MemoryJobStorage) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobExists)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryJobStorage) GetJob(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}

	return job, nil
}

func (m *MemoryJobStorage) GetJobsByDevice(ctx context.Context, deviceID string) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Job
	for _, job := range m.jobs {
		if job.DeviceID == deviceID {
			result = append(result, job)
		}
	}

	return result, nil
}

// MemoryDeviceStorage implements DeviceStorage using in-memory maps
type MemoryDeviceStorage struct {
	devices map[string]*Device
	mu      sync.RWMutex
}

// NewMemoryDeviceStorage creates a new in-memory device store
func NewMemoryDeviceStorage() *MemoryDeviceStorage {
	return &MemoryDeviceStorage{
		devices: make(map[string]*Device),
	}
}

func (m *MemoryDeviceStorage) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[deviceID]
	if !exists {
		return &Device{ID: deviceID}, nil
	}

	copied := *device
	return &copied, nil
}

func (m *MemoryDeviceStorage) IncrementUploads(ctx context.Context, deviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device := m.getOrCreate(deviceID)
	device.Uploads++
	return device.Uploads, nil
}

func (m *MemoryDeviceStorage) SetSubscription(ctx context.Context, deviceID string, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device := m.getOrCreate(deviceID)
	device.Pro = true
	device.Subscription = &sub
	return nil
}

// getOrCreate must be called with the write lock held
func (m *MemoryDeviceStorage) getOrCreate(deviceID string) *Device {
	device, exists := m.devices[deviceID]
	if !exists {
		device = &Device{ID: deviceID}
		m.devices[deviceID] = device
	}
	return device
}
