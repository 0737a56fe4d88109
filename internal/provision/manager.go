package provision

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/cloud-workstations/internal/logging"
	"github.com/shehryarbajwa/cloud-workstations/internal/region"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

const defaultLaunchTimeout = 3 * time.Minute

// Options tunes a Manager
type Options struct {
	LaunchTimeout  time.Duration
	RegionCapacity int64
	Logger         *log.Logger
}

// Manager handles workstation launches
type Manager struct {
	regionMgr     *region.Manager
	capacity      map[region.Region]*semaphore.Weighted
	instances     sync.Map // map[instanceID]*region.Instance
	mu            sync.RWMutex
	launchTimeout time.Duration
	slots         int64
	logger        *log.Logger
	newID         func() string
}

// NewManager creates a new provisioning manager
func NewManager(regionMgr *region.Manager, opts Options) *Manager {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = defaultLaunchTimeout
	}
	if opts.RegionCapacity <= 0 {
		opts.RegionCapacity = 10
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Manager{
		regionMgr:     regionMgr,
		capacity:      make(map[region.Region]*semaphore.Weighted),
		launchTimeout: opts.LaunchTimeout,
		slots:         opts.RegionCapacity,
		logger:        opts.Logger,
		newID:         newInstanceID,
	}
}

// Launch validates req and provisions a new workstation. Every call is an independent
// attempt. Failures are returned as *Error; a descriptor is only returned when complete.
func (m *Manager) Launch(ctx context.Context, req models.LaunchRequest) (*models.SessionDescriptor, error) {
	osID, err := req.Resolve()
	if err != nil {
		return nil, invalidRequest(err)
	}

	targetRegion := m.regionMgr.Route(req.Region)
	logger := m.logger.With("os", osID, "region", targetRegion)

	if !m.acquireSlot(targetRegion) {
		recordLaunch(string(osID), string(targetRegion), KindCapacityExhausted.String(), 0)
		logger.Warn("launch rejected: region at capacity")
		return nil, &Error{
			Kind:    KindCapacityExhausted,
			Message: fmt.Sprintf("No workstation capacity available in %s, try again shortly", targetRegion),
		}
	}
	defer m.releaseSlot(targetRegion)

	instanceID := m.newID()
	logger = logger.With("instance_id", instanceID)
	logger.Info("launching workstation")

	started := time.Now()
	launchCtx, cancel := context.WithTimeout(ctx, m.launchTimeout)
	defer cancel()

	instance, err := m.regionMgr.Launch(launchCtx, region.LaunchSpec{
		InstanceID: instanceID,
		OS:         osID,
		Region:     targetRegion,
	})
	if err != nil {
		perr := m.classify(launchCtx, osID, err)
		recordLaunch(string(osID), string(targetRegion), perr.Kind.String(), 0)
		logger.Error("launch failed", "kind", perr.Kind, "err", err)
		return nil, perr
	}

	// backends that get an id from their provider report it instead of ours
	if instance.InstanceID != "" && instance.InstanceID != instanceID {
		logger = logger.With("provider_instance_id", instance.InstanceID)
		instanceID = instance.InstanceID
	}

	descriptor := &models.SessionDescriptor{
		InstanceID:    instanceID,
		OSIdentifier:  osID,
		Region:        string(targetRegion),
		Status:        models.StatusRunning,
		ConnectionURL: instance.ConnectionURL,
	}
	if err := descriptor.Validate(); err != nil {
		recordLaunch(string(osID), string(targetRegion), KindInternal.String(), 0)
		logger.Error("backend returned an incomplete workstation", "err", err)
		return nil, &Error{Kind: KindInternal, Message: "Failed to launch workstation", Err: err}
	}

	if instance.Upstream != "" {
		m.instances.Store(instanceID, instance)
	}

	elapsed := time.Since(started)
	recordLaunch(string(osID), string(targetRegion), "success", elapsed.Seconds())
	logger.Info("workstation running", "provider_id", instance.ProviderID, "elapsed", elapsed.Round(time.Millisecond))

	return descriptor, nil
}

// Lookup returns a workstation launched by this process that exposes a relayable endpoint
func (m *Manager) Lookup(instanceID string) (*region.Instance, bool) {
	value, ok := m.instances.Load(instanceID)
	if !ok {
		return nil, false
	}
	return value.(*region.Instance), true
}

func (m *Manager) classify(ctx context.Context, osID models.OSIdentifier, err error) *Error {
	switch {
	case errors.Is(err, region.ErrNoCapacity):
		return &Error{Kind: KindCapacityExhausted, Message: "No workstation capacity available, try again shortly", Err: err}
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "Timed out waiting for the workstation to start", Err: err}
	case errors.Is(err, region.ErrImageUnavailable):
		return &Error{Kind: KindInternal, Message: fmt.Sprintf("No %s workstation image is available", osID), Err: err}
	default:
		return &Error{Kind: KindInternal, Message: "Failed to launch workstation", Err: err}
	}
}

// acquireSlot tries to acquire a launch slot in the region
func (m *Manager) acquireSlot(r region.Region) bool {
	m.mu.Lock()
	sem, exists := m.capacity[r]
	if !exists {
		sem = semaphore.NewWeighted(m.slots)
		m.capacity[r] = sem
	}
	m.mu.Unlock()

	if !sem.TryAcquire(1) {
		return false
	}
	launchesInFlight.WithLabelValues(string(r)).Inc()
	return true
}

// releaseSlot releases a launch slot in the region
func (m *Manager) releaseSlot(r region.Region) {
	m.mu.RLock()
	sem := m.capacity[r]
	m.mu.RUnlock()

	if sem != nil {
		sem.Release(1)
		launchesInFlight.WithLabelValues(string(r)).Dec()
	}
}

// newInstanceID returns an EC2-style identifier: "i-" followed by 17 hex characters
func newInstanceID() string {
	id := uuid.New()
	return "i-" + hex.EncodeToString(id[:])[:17]
}
