package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// jsonFile serializes reads and writes of a single JSON document on disk.
// Writes go to a temp file and are renamed into place.
type jsonFile struct {
	path string
	mu   sync.Mutex
}

func newJSONFile(path string, empty string) (*jsonFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte(empty), 0o644); err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", path, err)
		}
	}

	return &jsonFile{path: path}, nil
}

// read decodes the file into v. A missing or empty file leaves v untouched.
func (f *jsonFile) read(v interface{}) error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return nil
}

func (f *jsonFile) write(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", f.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

// FileJobStorage implements JobStorage on a jobs.json array
type FileJobStorage struct {
	file *jsonFile
}

// NewFileJobStorage creates a job store backed by dataDir/jobs.json
func NewFileJobStorage(dataDir string) (*FileJobStorage, error) {
	file, err := newJSONFile(filepath.Join(dataDir, "jobs.json"), "[]")
	if err != nil {
		return nil, err
	}
	return &FileJobStorage{file: file}, nil
}

func (s *FileJobStorage) load() ([]*Job, error) {
	var jobs []*Job
	if err := s.file.read(&jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *FileJobStorage) CreateJob(ctx context.Context, job *Job) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}

	for _, existing := range jobs {
		if existing.ID == job.ID {
			return fmt.Errorf("job %s: %w", job.ID, ErrJobExists)
		}
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	return s.file.write(append(jobs, job))
}

func (s *FileJobStorage) GetJob(ctx context.Context, jobID string) (*Job, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if job.ID == jobID {
			return job, nil
		}
	}

	return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
}

func (s *FileJobStorage) GetJobsByDevice(ctx context.Context, deviceID string) ([]*Job, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}

	var result []*Job
	for _, job := range jobs {
		if job.DeviceID == deviceID {
			result = append(result, job)
		}
	}

	return result, nil
}

// FileDeviceStorage implements DeviceStorage on a devices.json object keyed by device ID
type FileDeviceStorage struct {
	file *jsonFile
}

// NewFileDeviceStorage creates a device store backed by dataDir/devices.json
func NewFileDeviceStorage(dataDir string) (*FileDeviceStorage, error) {
	file, err := newJSONFile(filepath.Join(dataDir, "devices.json"), "{}")
	if err != nil {
		return nil, err
	}
	return &FileDeviceStorage{file: file}, nil
}

func (s *FileDeviceStorage) load() (map[string]*Device, error) {
	devices := make(map[string]*Device)
	if err := s.file.read(&devices); err != nil {
		return nil, err
	}
	if devices == nil {
		devices = make(map[string]*Device)
	}
	return devices, nil
}

func (s *FileDeviceStorage) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	devices, err := s.load()
	if err != nil {
		return nil, err
	}

	if device, exists := devices[deviceID]; exists {
		device.ID = deviceID
		return device, nil
	}
	return &Device{ID: deviceID}, nil
}

func (s *FileDeviceStorage) IncrementUploads(ctx context.Context, deviceID string) (int, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	devices, err := s.load()
	if err != nil {
		return 0, err
	}

	device := getOrCreateDevice(devices, deviceID)
	device.Uploads++

	if err := s.file.write(devices); err != nil {
		return 0, err
	}
	return device.Uploads, nil
}

func (s *FileDeviceStorage) SetSubscription(ctx context.Context, deviceID string, sub Subscription) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	devices, err := s.load()
	if err != nil {
		return err
	}

	device := getOrCreateDevice(devices, deviceID)
	device.Pro = true
	device.Subscription = &sub

	return s.file.write(devices)
}

func getOrCreateDevice(devices map[string]*Device, deviceID string) *Device {
	device, exists := devices[deviceID]
	if !exists || device == nil {
		device = &Device{ID: deviceID}
		devices[deviceID] = device
	}
	return device
}
