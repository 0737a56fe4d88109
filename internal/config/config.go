// Package config loads the provisioning server settings from defaults, an optional TOML file
// and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

// Supported provisioning backends.
const (
	BackendStub   = "stub"
	BackendDocker = "docker"
	BackendEC2    = "ec2"
	BackendHCloud = "hcloud"
)

const (
	defaultAddr              = ":8080"
	defaultConfigPath        = "workstation.toml"
	defaultLaunchTimeout     = 3 * time.Minute
	defaultRegionCapacity    = 10
	defaultRateLimitPerHour  = 100
	defaultRateLimitBurst    = 10
	defaultStubConnectionURL = "https://workstation.example.com"
)

var defaultRegions = []string{"us-east-1", "us-west-2", "eu-central-1"}

// Config stores the server runtime settings.
type Config struct {
	Addr              string
	PublicURL         string
	Backend           string
	Regions           []string
	DefaultRegion     string
	LaunchTimeout     time.Duration
	RegionCapacity    int
	RateLimitPerHour  int
	RateLimitBurst    int
	StubConnectionURL string
	LogLevel          string
	LogFormat         string
	CatalogPath       string
	Images            map[models.OSIdentifier]Image
	EC2               EC2Config
	HCloud            HCloudConfig
}

// Image describes how each backend materializes one OS profile. Empty fields mean the
// profile is unavailable on that backend.
type Image struct {
	Docker           string `toml:"docker"`
	DockerPort       int    `toml:"docker_port"`
	DockerKVM        bool   `toml:"docker_kvm"`
	AMI              string `toml:"ami"`
	EC2InstanceType  string `toml:"ec2_instance_type"`
	HCloudImage      string `toml:"hcloud_image"`
	HCloudServerType string `toml:"hcloud_server_type"`
}

// EC2Config holds settings for the EC2 backend.
type EC2Config struct {
	SubnetID         string   `toml:"subnet_id"`
	SecurityGroupIDs []string `toml:"security_group_ids"`
	KeyName          string   `toml:"key_name"`
	ConnectScheme    string   `toml:"connect_scheme"`
	ConnectPort      int      `toml:"connect_port"`
}

// HCloudConfig holds settings for the Hetzner Cloud backend.
type HCloudConfig struct {
	Token       string   `toml:"token"`
	SSHKeys     []string `toml:"ssh_keys"`
	ConnectPort int      `toml:"connect_port"`
}

type fileConfig struct {
	Addr              *string          `toml:"addr"`
	PublicURL         *string          `toml:"public_url"`
	Backend           *string          `toml:"backend"`
	Regions           []string         `toml:"regions"`
	DefaultRegion     *string          `toml:"default_region"`
	LaunchTimeout     *string          `toml:"launch_timeout"`
	RegionCapacity    *int             `toml:"region_capacity"`
	RateLimitPerHour  *int             `toml:"rate_limit_per_hour"`
	RateLimitBurst    *int             `toml:"rate_limit_burst"`
	StubConnectionURL *string          `toml:"stub_connection_url"`
	LogLevel          *string          `toml:"log_level"`
	LogFormat         *string          `toml:"log_format"`
	CatalogPath       *string          `toml:"catalog"`
	Images            map[string]Image `toml:"images"`
	EC2               *EC2Config       `toml:"ec2"`
	HCloud            *HCloudConfig    `toml:"hcloud"`
}

// Load builds the configuration. The TOML file is read from WORKSTATION_CONFIG, or
// ./workstation.toml when that variable is unset; a missing default file is not an error.
func Load() (*Config, error) {
	cfg := Defaults()

	path, explicit := os.LookupEnv("WORKSTATION_CONFIG")
	if !explicit {
		path = defaultConfigPath
	}
	if err := overlayFromFile(&cfg, path, explicit); err != nil {
		return nil, err
	}
	if err := overlayFromEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:              defaultAddr,
		Backend:           BackendStub,
		Regions:           slices.Clone(defaultRegions),
		DefaultRegion:     defaultRegions[0],
		LaunchTimeout:     defaultLaunchTimeout,
		RegionCapacity:    defaultRegionCapacity,
		RateLimitPerHour:  defaultRateLimitPerHour,
		RateLimitBurst:    defaultRateLimitBurst,
		StubConnectionURL: defaultStubConnectionURL,
		LogLevel:          "info",
		LogFormat:         "text",
		Images: map[models.OSIdentifier]Image{
			models.OSWindows: {
				Docker:          "dockurr/windows:latest",
				DockerPort:      8006,
				DockerKVM:       true,
				EC2InstanceType: "g4dn.xlarge",
			},
			models.OSMac: {
				Docker:          "dockurr/macos:latest",
				DockerPort:      8006,
				DockerKVM:       true,
				EC2InstanceType: "mac1.metal",
			},
			models.OSLinux: {
				Docker:           "lscr.io/linuxserver/webtop:ubuntu-xfce",
				DockerPort:       3000,
				EC2InstanceType:  "g4dn.xlarge",
				HCloudImage:      "ubuntu-22.04",
				HCloudServerType: "cpx31",
			},
		},
		EC2: EC2Config{
			ConnectScheme: "https",
			ConnectPort:   8443,
		},
		HCloud: HCloudConfig{
			ConnectPort: 8443,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	switch c.Backend {
	case BackendStub, BackendDocker, BackendEC2, BackendHCloud:
	default:
		return fmt.Errorf("backend: unknown backend %q", c.Backend)
	}
	if len(c.Regions) == 0 {
		return errors.New("regions: at least one region is required")
	}
	if !slices.Contains(c.Regions, c.DefaultRegion) {
		return fmt.Errorf("default_region: %q is not one of the configured regions", c.DefaultRegion)
	}
	if c.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout: must be positive, got %s", c.LaunchTimeout)
	}
	if c.RegionCapacity < 1 {
		return fmt.Errorf("region_capacity: must be at least 1, got %d", c.RegionCapacity)
	}
	if c.RateLimitPerHour < 1 || c.RateLimitBurst < 1 {
		return errors.New("rate_limit_per_hour and rate_limit_burst must be at least 1")
	}
	if c.Backend == BackendStub {
		if err := validateAbsoluteURL(c.StubConnectionURL); err != nil {
			return fmt.Errorf("stub_connection_url: %w", err)
		}
	}
	if c.PublicURL != "" {
		if err := validateAbsoluteURL(c.PublicURL); err != nil {
			return fmt.Errorf("public_url: %w", err)
		}
	}
	if c.Backend == BackendHCloud && c.HCloud.Token == "" {
		return errors.New("hcloud.token: required for the hcloud backend (set HCLOUD_TOKEN)")
	}
	return nil
}

// ImageFor returns the image settings for a profile.
func (c *Config) ImageFor(id models.OSIdentifier) Image {
	return c.Images[id]
}

func overlayFromFile(cfg *Config, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	setString(&cfg.Addr, decoded.Addr)
	setString(&cfg.PublicURL, decoded.PublicURL)
	setString(&cfg.Backend, decoded.Backend)
	setString(&cfg.DefaultRegion, decoded.DefaultRegion)
	setString(&cfg.StubConnectionURL, decoded.StubConnectionURL)
	setString(&cfg.LogLevel, decoded.LogLevel)
	setString(&cfg.LogFormat, decoded.LogFormat)
	setString(&cfg.CatalogPath, decoded.CatalogPath)
	setInt(&cfg.RegionCapacity, decoded.RegionCapacity)
	setInt(&cfg.RateLimitPerHour, decoded.RateLimitPerHour)
	setInt(&cfg.RateLimitBurst, decoded.RateLimitBurst)

	if len(decoded.Regions) > 0 {
		cfg.Regions = decoded.Regions
		if decoded.DefaultRegion == nil {
			cfg.DefaultRegion = decoded.Regions[0]
		}
	}
	if decoded.LaunchTimeout != nil {
		d, err := time.ParseDuration(*decoded.LaunchTimeout)
		if err != nil {
			return fmt.Errorf("parse launch_timeout in %q: %w", path, err)
		}
		cfg.LaunchTimeout = d
	}
	for name, img := range decoded.Images {
		id, err := models.ParseOSIdentifier(name)
		if err != nil {
			return fmt.Errorf("images in %q: %w", path, err)
		}
		cfg.Images[id] = mergeImage(cfg.Images[id], img)
	}
	if decoded.EC2 != nil {
		mergeEC2(&cfg.EC2, *decoded.EC2)
	}
	if decoded.HCloud != nil {
		mergeHCloud(&cfg.HCloud, *decoded.HCloud)
	}
	return nil
}

func overlayFromEnv(cfg *Config) error {
	if v := os.Getenv("WORKSTATION_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("WORKSTATION_PUBLIC_URL"); v != "" {
		cfg.PublicURL = v
	}
	if v := os.Getenv("WORKSTATION_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("WORKSTATION_REGIONS"); v != "" {
		cfg.Regions = splitList(v)
		if os.Getenv("WORKSTATION_DEFAULT_REGION") == "" && len(cfg.Regions) > 0 {
			cfg.DefaultRegion = cfg.Regions[0]
		}
	}
	if v := os.Getenv("WORKSTATION_DEFAULT_REGION"); v != "" {
		cfg.DefaultRegion = v
	}
	if v := os.Getenv("WORKSTATION_LAUNCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse WORKSTATION_LAUNCH_TIMEOUT: %w", err)
		}
		cfg.LaunchTimeout = d
	}
	for name, target := range map[string]*int{
		"WORKSTATION_REGION_CAPACITY":     &cfg.RegionCapacity,
		"WORKSTATION_RATE_LIMIT_PER_HOUR": &cfg.RateLimitPerHour,
		"WORKSTATION_RATE_LIMIT_BURST":    &cfg.RateLimitBurst,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*target = n
	}
	if v := os.Getenv("WORKSTATION_STUB_CONNECTION_URL"); v != "" {
		cfg.StubConnectionURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("WORKSTATION_CATALOG"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("HCLOUD_TOKEN"); v != "" {
		cfg.HCloud.Token = v
	}
	return nil
}

func mergeImage(dst, src Image) Image {
	setString(&dst.Docker, nonEmpty(src.Docker))
	setString(&dst.AMI, nonEmpty(src.AMI))
	setString(&dst.EC2InstanceType, nonEmpty(src.EC2InstanceType))
	setString(&dst.HCloudImage, nonEmpty(src.HCloudImage))
	setString(&dst.HCloudServerType, nonEmpty(src.HCloudServerType))
	if src.DockerPort > 0 {
		dst.DockerPort = src.DockerPort
	}
	if src.Docker != "" {
		dst.DockerKVM = src.DockerKVM
	}
	return dst
}

func mergeEC2(dst *EC2Config, src EC2Config) {
	setString(&dst.SubnetID, nonEmpty(src.SubnetID))
	setString(&dst.KeyName, nonEmpty(src.KeyName))
	setString(&dst.ConnectScheme, nonEmpty(src.ConnectScheme))
	if len(src.SecurityGroupIDs) > 0 {
		dst.SecurityGroupIDs = src.SecurityGroupIDs
	}
	if src.ConnectPort > 0 {
		dst.ConnectPort = src.ConnectPort
	}
}

func mergeHCloud(dst *HCloudConfig, src HCloudConfig) {
	setString(&dst.Token, nonEmpty(src.Token))
	if len(src.SSHKeys) > 0 {
		dst.SSHKeys = src.SSHKeys
	}
	if src.ConnectPort > 0 {
		dst.ConnectPort = src.ConnectPort
	}
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
