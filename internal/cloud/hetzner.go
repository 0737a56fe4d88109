package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/shehryarbajwa/cloud-workstations/internal/region"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

// HCloudImage is the image and server type for one OS profile.
type HCloudImage struct {
	Image      string
	ServerType string
}

// HCloudOptions holds settings shared by every Hetzner workstation.
type HCloudOptions struct {
	SSHKeys     []string
	ConnectPort int
}

// hcloudAPI is the subset of the Hetzner Cloud client the backend uses
type hcloudAPI interface {
	CreateServer(ctx context.Context, opts hcloud.ServerCreateOpts) (hcloud.ServerCreateResult, error)
	WaitFor(ctx context.Context, actions ...*hcloud.Action) error
	GetSSHKey(ctx context.Context, idOrName string) (*hcloud.SSHKey, error)
	DeleteServer(ctx context.Context, server *hcloud.Server) error
}

type hcloudClient struct {
	client *hcloud.Client
}

func (c *hcloudClient) CreateServer(ctx context.Context, opts hcloud.ServerCreateOpts) (hcloud.ServerCreateResult, error) {
	result, _, err := c.client.Server.Create(ctx, opts)
	return result, err
}

func (c *hcloudClient) WaitFor(ctx context.Context, actions ...*hcloud.Action) error {
	return c.client.Action.WaitFor(ctx, actions...)
}

func (c *hcloudClient) GetSSHKey(ctx context.Context, idOrName string) (*hcloud.SSHKey, error) {
	key, _, err := c.client.SSHKey.Get(ctx, idOrName)
	return key, err
}

func (c *hcloudClient) DeleteServer(ctx context.Context, server *hcloud.Server) error {
	_, _, err := c.client.Server.DeleteWithResult(ctx, server)
	return err
}

// HCloudBackend launches workstations as Hetzner Cloud servers. The region name is
// used as the Hetzner location, e.g. fsn1 or ash.
type HCloudBackend struct {
	api      hcloudAPI
	location string
	images   map[models.OSIdentifier]HCloudImage
	opts     HCloudOptions
}

// NewHCloudBackend creates a backend authenticated with token
func NewHCloudBackend(token, location string, images map[models.OSIdentifier]HCloudImage, opts HCloudOptions) (*HCloudBackend, error) {
	if token == "" {
		return nil, fmt.Errorf("hcloud token is required")
	}
	client := hcloud.NewClient(
		hcloud.WithToken(token),
		hcloud.WithApplication("cloud-workstations", "1.0"),
	)
	return newHCloudBackend(&hcloudClient{client: client}, location, images, opts), nil
}

func newHCloudBackend(api hcloudAPI, location string, images map[models.OSIdentifier]HCloudImage, opts HCloudOptions) *HCloudBackend {
	if opts.ConnectPort == 0 {
		opts.ConnectPort = 8443
	}
	return &HCloudBackend{api: api, location: location, images: images, opts: opts}
}

func (b *HCloudBackend) Name() string { return "hcloud" }

func (b *HCloudBackend) Prepare(context.Context) error { return nil }

func (b *HCloudBackend) Close() error { return nil }

// Launch creates a server and waits for its create actions to finish
func (b *HCloudBackend) Launch(ctx context.Context, spec region.LaunchSpec) (*region.Instance, error) {
	img, ok := b.images[spec.OS]
	if !ok || img.Image == "" || img.ServerType == "" {
		return nil, fmt.Errorf("%s on hcloud: %w", spec.OS, region.ErrImageUnavailable)
	}

	sshKeys := make([]*hcloud.SSHKey, 0, len(b.opts.SSHKeys))
	for _, name := range b.opts.SSHKeys {
		key, err := b.api.GetSSHKey(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get ssh key %s: %w", name, err)
		}
		if key == nil {
			return nil, fmt.Errorf("ssh key not found: %s", name)
		}
		sshKeys = append(sshKeys, key)
	}

	opts := hcloud.ServerCreateOpts{
		Name:       serverName(spec.InstanceID),
		ServerType: &hcloud.ServerType{Name: img.ServerType},
		Image:      &hcloud.Image{Name: img.Image},
		SSHKeys:    sshKeys,
		Labels: map[string]string{
			"instance-id": spec.InstanceID,
			"os":          string(spec.OS),
			"managed-by":  "cloud-workstations",
		},
	}
	if b.location != "" {
		opts.Location = &hcloud.Location{Name: b.location}
	}

	result, err := b.api.CreateServer(ctx, opts)
	if err != nil {
		return nil, classifyHCloud(fmt.Errorf("failed to create server: %w", err))
	}
	if result.Server == nil {
		return nil, fmt.Errorf("create server returned no server")
	}

	actions := append([]*hcloud.Action{}, result.NextActions...)
	if result.Action != nil {
		actions = append([]*hcloud.Action{result.Action}, actions...)
	}
	if len(actions) > 0 {
		if err := b.api.WaitFor(ctx, actions...); err != nil {
			err = classifyHCloud(fmt.Errorf("failed to wait for server %d: %w", result.Server.ID, err))
			return nil, b.discard(result.Server, err)
		}
	}

	ip := result.Server.PublicNet.IPv4.IP
	if ip == nil || ip.IsUnspecified() {
		return nil, b.discard(result.Server, fmt.Errorf("server %d has no public IPv4 address", result.Server.ID))
	}

	return &region.Instance{
		InstanceID:    spec.InstanceID,
		Region:        spec.Region,
		ConnectionURL: fmt.Sprintf("https://%s:%d", ip.String(), b.opts.ConnectPort),
		ProviderID:    fmt.Sprintf("%d", result.Server.ID),
	}, nil
}

// discard deletes a server that never became a usable workstation and returns cause,
// joined with the delete error if there was one
func (b *HCloudBackend) discard(server *hcloud.Server, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := b.api.DeleteServer(ctx, server); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to delete server %d: %w", server.ID, err))
	}
	return cause
}

// classifyHCloud marks API errors that mean the project or location is out of resources
func classifyHCloud(err error) error {
	var apiErr hcloud.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case hcloud.ErrorCodeResourceLimitExceeded, hcloud.ErrorCodeResourceUnavailable, hcloud.ErrorCodePlacementError:
		return fmt.Errorf("%w: %w", region.ErrNoCapacity, err)
	}
	return err
}

func serverName(instanceID string) string {
	return "workstation-" + instanceID
}
