package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKSTATION_CONFIG", "")
	os.Unsetenv("WORKSTATION_CONFIG")
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, BackendStub, cfg.Backend)
	assert.Equal(t, []string{"us-east-1", "us-west-2", "eu-central-1"}, cfg.Regions)
	assert.Equal(t, "us-east-1", cfg.DefaultRegion)
	assert.Equal(t, defaultLaunchTimeout, cfg.LaunchTimeout)
	assert.Equal(t, defaultRegionCapacity, cfg.RegionCapacity)
	assert.Equal(t, defaultStubConnectionURL, cfg.StubConnectionURL)
	assert.Equal(t, 3000, cfg.ImageFor(models.OSLinux).DockerPort)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workstation.toml")
	writeFile(t, path, `
backend = "docker"
regions = ["eu-central-1", "us-east-1"]
launch_timeout = "90s"
region_capacity = 4
catalog = "/etc/workstations/catalog.toml"

[images.linux]
docker = "example/desktop:1"

[images.mac]
ami = "ami-0123"

[ec2]
subnet_id = "subnet-1"
connect_port = 9443
`)
	t.Setenv("WORKSTATION_CONFIG", path)
	t.Setenv("WORKSTATION_REGION_CAPACITY", "7")
	t.Setenv("WORKSTATION_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendDocker, cfg.Backend)
	assert.Equal(t, "eu-central-1", cfg.DefaultRegion)
	assert.Equal(t, 90*time.Second, cfg.LaunchTimeout)
	assert.Equal(t, 7, cfg.RegionCapacity)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/etc/workstations/catalog.toml", cfg.CatalogPath)

	linux := cfg.ImageFor(models.OSLinux)
	assert.Equal(t, "example/desktop:1", linux.Docker)
	assert.Equal(t, 3000, linux.DockerPort, "unset fields keep their defaults")

	mac := cfg.ImageFor(models.OSMac)
	assert.Equal(t, "ami-0123", mac.AMI)
	assert.Equal(t, "mac1.metal", mac.EC2InstanceType)

	assert.Equal(t, "subnet-1", cfg.EC2.SubnetID)
	assert.Equal(t, 9443, cfg.EC2.ConnectPort)
	assert.Equal(t, "https", cfg.EC2.ConnectScheme)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	t.Setenv("WORKSTATION_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))

	_, err := Load()
	assert.ErrorContains(t, err, "stat config file")
}

func TestLoadRejectsUnknownImageProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workstation.toml")
	writeFile(t, path, `
[images.plan9]
docker = "bell/labs"
`)
	t.Setenv("WORKSTATION_CONFIG", path)

	_, err := Load()
	assert.ErrorContains(t, err, "unknown os identifier")
}

func TestEnvRegionsResetDefaultRegion(t *testing.T) {
	t.Setenv("WORKSTATION_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	os.Unsetenv("WORKSTATION_CONFIG")
	chdir(t, t.TempDir())
	t.Setenv("WORKSTATION_REGIONS", "fsn1, nbg1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"fsn1", "nbg1"}, cfg.Regions)
	assert.Equal(t, "fsn1", cfg.DefaultRegion)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "vmware" }, wantErr: "backend"},
		{name: "no regions", mutate: func(c *Config) { c.Regions = nil }, wantErr: "regions"},
		{name: "default region outside set", mutate: func(c *Config) { c.DefaultRegion = "mars-1" }, wantErr: "default_region"},
		{name: "zero timeout", mutate: func(c *Config) { c.LaunchTimeout = 0 }, wantErr: "launch_timeout"},
		{name: "zero capacity", mutate: func(c *Config) { c.RegionCapacity = 0 }, wantErr: "region_capacity"},
		{name: "relative stub url", mutate: func(c *Config) { c.StubConnectionURL = "/desk" }, wantErr: "stub_connection_url"},
		{name: "hcloud without token", mutate: func(c *Config) { c.Backend = BackendHCloud }, wantErr: "hcloud.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// chdir changes the working directory for the duration of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
