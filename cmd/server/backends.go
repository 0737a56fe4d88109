package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shehryarbajwa/cloud-workstations/internal/cloud"
	"github.com/shehryarbajwa/cloud-workstations/internal/config"
	"github.com/shehryarbajwa/cloud-workstations/internal/region"
	"github.com/shehryarbajwa/cloud-workstations/internal/workstation"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

// backendFactory returns the region.Factory for the configured backend
func backendFactory(ctx context.Context, cfg *config.Config) (region.Factory, error) {
	switch cfg.Backend {
	case config.BackendStub:
		return func(region.Region) (region.Backend, error) {
			return region.NewStubBackend(cfg.StubConnectionURL), nil
		}, nil

	case config.BackendDocker:
		images := make(map[models.OSIdentifier]workstation.Image)
		for _, id := range models.AllOSIdentifiers() {
			img := cfg.ImageFor(id)
			images[id] = workstation.Image{Ref: img.Docker, Port: img.DockerPort, KVM: img.DockerKVM}
		}
		host, err := advertiseHost(cfg.PublicURL)
		if err != nil {
			return nil, err
		}
		return func(r region.Region) (region.Backend, error) {
			return workstation.NewPool(string(r), images, host)
		}, nil

	case config.BackendEC2:
		images := make(map[models.OSIdentifier]cloud.EC2Image)
		for _, id := range models.AllOSIdentifiers() {
			img := cfg.ImageFor(id)
			images[id] = cloud.EC2Image{AMI: img.AMI, InstanceType: img.EC2InstanceType}
		}
		opts := cloud.EC2Options{
			SubnetID:         cfg.EC2.SubnetID,
			SecurityGroupIDs: cfg.EC2.SecurityGroupIDs,
			KeyName:          cfg.EC2.KeyName,
			ConnectScheme:    cfg.EC2.ConnectScheme,
			ConnectPort:      cfg.EC2.ConnectPort,
		}
		return func(r region.Region) (region.Backend, error) {
			return cloud.NewEC2Backend(ctx, string(r), images, opts)
		}, nil

	case config.BackendHCloud:
		images := make(map[models.OSIdentifier]cloud.HCloudImage)
		for _, id := range models.AllOSIdentifiers() {
			img := cfg.ImageFor(id)
			images[id] = cloud.HCloudImage{Image: img.HCloudImage, ServerType: img.HCloudServerType}
		}
		opts := cloud.HCloudOptions{SSHKeys: cfg.HCloud.SSHKeys, ConnectPort: cfg.HCloud.ConnectPort}
		return func(r region.Region) (region.Backend, error) {
			return cloud.NewHCloudBackend(cfg.HCloud.Token, string(r), images, opts)
		}, nil
	}

	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// advertiseHost is the host placed in Docker connection URLs
func advertiseHost(publicURL string) (string, error) {
	if publicURL == "" {
		return "localhost", nil
	}
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("parse public url: %w", err)
	}
	return u.Hostname(), nil
}
