package workstation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/shehryarbajwa/cloud-workstations/internal/region"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

const websockifyPath = "/websockify"

// Image is the container image serving one OS profile
type Image struct {
	Ref  string
	Port int
	// KVM passes /dev/kvm through for images that boot a full virtual machine
	KVM bool
}

// dockerAPI is the subset of the Docker client the pool uses
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Pool starts one container per workstation in a region
type Pool struct {
	client        dockerAPI
	region        string
	images        map[models.OSIdentifier]Image
	advertiseHost string
	pollInterval  time.Duration
}

// NewPool connects to the Docker daemon from the environment. advertiseHost is the host
// name placed in connection URLs.
func NewPool(region string, images map[models.OSIdentifier]Image, advertiseHost string) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return newPool(cli, region, images, advertiseHost), nil
}

func newPool(cli dockerAPI, region string, images map[models.OSIdentifier]Image, advertiseHost string) *Pool {
	if advertiseHost == "" {
		advertiseHost = "localhost"
	}
	return &Pool{
		client:        cli,
		region:        region,
		images:        images,
		advertiseHost: advertiseHost,
		pollInterval:  500 * time.Millisecond,
	}
}

func (p *Pool) Name() string { return "docker" }

// Launch creates and starts the container for spec and waits until its desktop answers
func (p *Pool) Launch(ctx context.Context, spec region.LaunchSpec) (*region.Instance, error) {
	img, ok := p.images[spec.OS]
	if !ok || img.Ref == "" || img.Port == 0 {
		return nil, fmt.Errorf("%s on docker: %w", spec.OS, region.ErrImageUnavailable)
	}

	containerConfig, hostConfig := p.containerSpec(spec, img)

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(spec.InstanceID))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to create container: %w", err))
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.discard(resp.ID)
		return nil, classify(fmt.Errorf("failed to start container: %w", err))
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.discard(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	port, err := publishedPort(inspect, img.Port)
	if err != nil {
		p.discard(resp.ID)
		return nil, err
	}

	if err := p.waitForReady(ctx, port); err != nil {
		p.discard(resp.ID)
		return nil, fmt.Errorf("workstation failed to become ready: %w", err)
	}

	return &region.Instance{
		InstanceID:    spec.InstanceID,
		Region:        spec.Region,
		ConnectionURL: fmt.Sprintf("http://%s:%s", p.advertiseHost, port),
		Upstream:      fmt.Sprintf("ws://%s:%s%s", p.advertiseHost, port, websockifyPath),
		ProviderID:    resp.ID,
	}, nil
}

func (p *Pool) containerSpec(spec region.LaunchSpec, img Image) (*container.Config, *container.HostConfig) {
	exposed := nat.Port(fmt.Sprintf("%d/tcp", img.Port))

	containerConfig := &container.Config{
		Image: img.Ref,
		Labels: map[string]string{
			"instance-id": spec.InstanceID,
			"os":          string(spec.OS),
			"region":      p.region,
			"managed-by":  "cloud-workstations",
		},
		ExposedPorts: nat.PortSet{
			exposed: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			exposed: []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		ShmSize:    1 << 30, // desktops need more than the 64MB default
		AutoRemove: false,
	}

	if img.KVM {
		hostConfig.CapAdd = []string{"NET_ADMIN"}
		hostConfig.Resources.Devices = []container.DeviceMapping{
			{PathOnHost: "/dev/kvm", PathInContainer: "/dev/kvm", CgroupPermissions: "rwm"},
		}
	}

	return containerConfig, hostConfig
}

// Prepare pulls every configured image that is not present locally
func (p *Pool) Prepare(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	present := make(map[string]bool)
	for _, img := range images {
		for _, tag := range img.RepoTags {
			present[tag] = true
		}
	}

	for _, img := range p.images {
		if img.Ref == "" || present[img.Ref] {
			continue
		}
		if err := p.pull(ctx, img.Ref); err != nil {
			return err
		}
		present[img.Ref] = true
	}

	return nil
}

func (p *Pool) pull(ctx context.Context, ref string) error {
	reader, err := p.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull progress for %s: %w", ref, err)
	}
	return nil
}

func (p *Pool) Close() error {
	return p.client.Close()
}

// discard removes a container that never became a usable workstation
func (p *Pool) discard(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// waitForReady polls the published port until the desktop's web endpoint answers
func (p *Pool) waitForReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://%s:%s/", p.advertiseHost, port)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func publishedPort(inspect container.InspectResponse, containerPort int) (string, error) {
	if inspect.NetworkSettings == nil {
		return "", fmt.Errorf("container has no network settings")
	}
	bindings := inspect.NetworkSettings.Ports[nat.Port(fmt.Sprintf("%d/tcp", containerPort))]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return "", fmt.Errorf("port %d/tcp is not published", containerPort)
	}
	return bindings[0].HostPort, nil
}

func containerName(instanceID string) string {
	return "workstation-" + instanceID
}

// classify marks daemon errors that mean the host is out of resources
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"no space left", "cannot allocate memory", "insufficient", "port is already allocated"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", region.ErrNoCapacity, err)
		}
	}
	return err
}
