package region

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

// Region represents a provisioning location, e.g. "us-east-1" or "fsn1"
type Region string

var (
	// ErrNoCapacity is wrapped by backends when the provider cannot place another workstation
	ErrNoCapacity = errors.New("no capacity available")
	// ErrImageUnavailable is wrapped by backends when no image is configured for a profile
	ErrImageUnavailable = errors.New("workstation image unavailable")
)

// LaunchSpec describes one workstation to start
type LaunchSpec struct {
	InstanceID string
	OS         models.OSIdentifier
	Region     Region
}

// Instance is a started workstation as reported by a backend
type Instance struct {
	InstanceID    string
	Region        Region
	ConnectionURL string
	// Upstream is a websocket address the connect relay can dial; empty when the backend
	// exposes no relayable endpoint
	Upstream   string
	ProviderID string
}

// Backend starts workstations in one region
type Backend interface {
	Name() string
	Prepare(ctx context.Context) error
	Launch(ctx context.Context, spec LaunchSpec) (*Instance, error)
	Close() error
}

// Factory builds the backend serving a region
type Factory func(region Region) (Backend, error)

// RegionalBackend wraps a backend with region metadata
type RegionalBackend struct {
	Region  Region
	Backend Backend
}

// Manager manages workstation backends across multiple regions
type Manager struct {
	backends      map[Region]*RegionalBackend
	defaultRegion Region
	mu            sync.RWMutex
}

// NewManager creates a backend for every region using factory
func NewManager(regions []string, defaultRegion string, factory Factory) (*Manager, error) {
	if len(regions) == 0 {
		return nil, fmt.Errorf("at least one region is required")
	}

	manager := &Manager{
		backends:      make(map[Region]*RegionalBackend),
		defaultRegion: Region(defaultRegion),
	}

	for _, name := range regions {
		r := Region(name)
		if _, dup := manager.backends[r]; dup {
			continue
		}
		backend, err := factory(r)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to create backend for %s: %w", r, err)
		}
		manager.backends[r] = &RegionalBackend{Region: r, Backend: backend}
	}

	if _, ok := manager.backends[manager.defaultRegion]; !ok {
		manager.Close()
		return nil, fmt.Errorf("default region %s is not configured", defaultRegion)
	}

	return manager, nil
}

// GetBackend returns the backend for a specific region
func (m *Manager) GetBackend(region Region) (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	regional, exists := m.backends[region]
	if !exists {
		return nil, fmt.Errorf("unsupported region: %s", region)
	}

	return regional.Backend, nil
}

// Route determines the region for a launch. Unknown or empty requests fall back to the
// default region.
func (m *Manager) Route(requested string) Region {
	region := Region(requested)

	m.mu.RLock()
	_, exists := m.backends[region]
	m.mu.RUnlock()

	if exists {
		return region
	}

	return m.defaultRegion
}

// Launch starts a workstation in spec.Region
func (m *Manager) Launch(ctx context.Context, spec LaunchSpec) (*Instance, error) {
	backend, err := m.GetBackend(spec.Region)
	if err != nil {
		return nil, err
	}

	return backend.Launch(ctx, spec)
}

// EnsureReady prepares every regional backend concurrently
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for region, regional := range m.backends {
		region, regional := region, regional
		g.Go(func() error {
			if err := regional.Backend.Prepare(ctx); err != nil {
				return fmt.Errorf("failed to prepare %s: %w", region, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// DefaultRegion returns the fallback region
func (m *Manager) DefaultRegion() Region {
	return m.defaultRegion
}

// GetRegions returns all available regions, sorted
func (m *Manager) GetRegions() []Region {
	m.mu.RLock()
	defer m.mu.RUnlock()

	regions := make([]Region, 0, len(m.backends))
	for region := range m.backends {
		regions = append(regions, region)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i] < regions[j] })

	return regions
}

// BackendName reports which backend kind serves the default region
func (m *Manager) BackendName() string {
	backend, err := m.GetBackend(m.defaultRegion)
	if err != nil {
		return ""
	}
	return backend.Name()
}

// Close closes all regional backends
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, regional := range m.backends {
		if err := regional.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", regional.Region, err))
		}
	}

	return errors.Join(errs...)
}
