package models

import (
	"fmt"
	"net/url"
	"strings"
)

// OSIdentifier names one of the operating-system profiles a workstation can run
type OSIdentifier string

const (
	OSWindows OSIdentifier = "windows"
	OSMac     OSIdentifier = "mac"
	OSLinux   OSIdentifier = "linux"
)

// AllOSIdentifiers returns the closed set of profiles in display order
func AllOSIdentifiers() []OSIdentifier {
	return []OSIdentifier{OSWindows, OSMac, OSLinux}
}

// Valid reports whether the identifier is a member of the closed set
func (o OSIdentifier) Valid() bool {
	switch o {
	case OSWindows, OSMac, OSLinux:
		return true
	}
	return false
}

// ParseOSIdentifier converts user or wire input into an OSIdentifier
func ParseOSIdentifier(s string) (OSIdentifier, error) {
	id := OSIdentifier(strings.TrimSpace(s))
	if !id.Valid() {
		return "", fmt.Errorf("unknown os identifier %q (want one of windows, mac, linux)", s)
	}
	return id, nil
}

// SessionStatus represents the state of a provisioned workstation
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusPending SessionStatus = "pending"
	StatusFailed  SessionStatus = "failed"
)

func (s SessionStatus) valid() bool {
	switch s {
	case StatusRunning, StatusPending, StatusFailed:
		return true
	}
	return false
}

// LaunchRequest is the payload for launching a workstation
type LaunchRequest struct {
	OSIdentifier OSIdentifier `json:"osIdentifier"`
	// OSType is the field name older clients send; only read when OSIdentifier is empty
	OSType OSIdentifier `json:"osType,omitempty"`
	// Region optionally pins the launch to a region; unknown regions fall back to the default
	Region string `json:"region,omitempty"`
}

// Resolve returns the requested profile, preferring osIdentifier over osType
func (r LaunchRequest) Resolve() (OSIdentifier, error) {
	raw := r.OSIdentifier
	if raw == "" {
		raw = r.OSType
	}
	if raw == "" {
		return "", fmt.Errorf("osIdentifier is required")
	}
	return ParseOSIdentifier(string(raw))
}

// SessionDescriptor describes a provisioned workstation session
type SessionDescriptor struct {
	InstanceID    string        `json:"instanceId"`
	OSIdentifier  OSIdentifier  `json:"osIdentifier"`
	Region        string        `json:"region"`
	Status        SessionStatus `json:"status"`
	ConnectionURL string        `json:"connectionUrl"`
}

// Validate checks that every field of the descriptor is populated and well formed
func (d *SessionDescriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("session descriptor is nil")
	}
	if d.InstanceID == "" {
		return fmt.Errorf("instanceId is required")
	}
	if !d.OSIdentifier.Valid() {
		return fmt.Errorf("unknown osIdentifier %q", d.OSIdentifier)
	}
	if d.Region == "" {
		return fmt.Errorf("region is required")
	}
	if !d.Status.valid() {
		return fmt.Errorf("unknown status %q", d.Status)
	}
	u, err := url.Parse(d.ConnectionURL)
	if err != nil {
		return fmt.Errorf("invalid connectionUrl: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("connectionUrl %q is not an absolute URI", d.ConnectionURL)
	}
	return nil
}

// ErrorResponse is the body returned with every error-class status
type ErrorResponse struct {
	Error string `json:"error"`
}
