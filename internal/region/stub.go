package region

import "context"

// StubBackend reports every launch as an immediately running workstation reachable at a fixed
// URL. No compute is allocated.
type StubBackend struct {
	connectionURL string
}

// NewStubBackend returns a backend that hands out connectionURL for every launch
func NewStubBackend(connectionURL string) *StubBackend {
	return &StubBackend{connectionURL: connectionURL}
}

func (s *StubBackend) Name() string { return "stub" }

func (s *StubBackend) Prepare(context.Context) error { return nil }

func (s *StubBackend) Launch(ctx context.Context, spec LaunchSpec) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Instance{
		InstanceID:    spec.InstanceID,
		Region:        spec.Region,
		ConnectionURL: s.connectionURL,
	}, nil
}

func (s *StubBackend) Close() error { return nil }
