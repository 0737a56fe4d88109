// Package cloud provides workstation backends on public cloud providers.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/shehryarbajwa/cloud-workstations/internal/region"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

const cleanupTimeout = 30 * time.Second

// EC2 error codes that mean the account or the zone cannot take another instance.
var ec2CapacityCodes = map[string]bool{
	"InsufficientInstanceCapacity": true,
	"InsufficientHostCapacity":     true,
	"InstanceLimitExceeded":        true,
	"VcpuLimitExceeded":            true,
	"MaxSpotInstanceCountExceeded": true,
}

// EC2Image is the machine image and size for one OS profile.
type EC2Image struct {
	AMI          string
	InstanceType string
}

// EC2Options holds network and connection settings shared by every EC2 workstation.
type EC2Options struct {
	SubnetID         string
	SecurityGroupIDs []string
	KeyName          string
	ConnectScheme    string
	ConnectPort      int
	PollInterval     time.Duration
}

type ec2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// EC2Backend launches workstations as EC2 instances in one AWS region.
type EC2Backend struct {
	api    ec2API
	region string
	images map[models.OSIdentifier]EC2Image
	opts   EC2Options
}

// NewEC2Backend loads AWS credentials from the default chain and targets awsRegion.
func NewEC2Backend(ctx context.Context, awsRegion string, images map[models.OSIdentifier]EC2Image, opts EC2Options) (*EC2Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newEC2Backend(ec2.NewFromConfig(cfg), awsRegion, images, opts), nil
}

func newEC2Backend(api ec2API, awsRegion string, images map[models.OSIdentifier]EC2Image, opts EC2Options) *EC2Backend {
	if opts.ConnectScheme == "" {
		opts.ConnectScheme = "https"
	}
	if opts.ConnectPort == 0 {
		opts.ConnectPort = 8443
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &EC2Backend{api: api, region: awsRegion, images: images, opts: opts}
}

func (b *EC2Backend) Name() string { return "ec2" }

func (b *EC2Backend) Prepare(context.Context) error { return nil }

func (b *EC2Backend) Close() error { return nil }

// Launch runs one instance and waits until it is running with a public address.
func (b *EC2Backend) Launch(ctx context.Context, spec region.LaunchSpec) (*region.Instance, error) {
	img, ok := b.images[spec.OS]
	if !ok || img.AMI == "" || img.InstanceType == "" {
		return nil, fmt.Errorf("%s on ec2: %w", spec.OS, region.ErrImageUnavailable)
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(img.AMI),
		InstanceType: types.InstanceType(img.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		ClientToken:  aws.String(spec.InstanceID),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String("workstation-" + spec.InstanceID)},
					{Key: aws.String("workstation:os"), Value: aws.String(string(spec.OS))},
					{Key: aws.String("managed-by"), Value: aws.String("cloud-workstations")},
				},
			},
		},
	}
	if b.opts.SubnetID != "" {
		input.SubnetId = aws.String(b.opts.SubnetID)
	}
	if len(b.opts.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = b.opts.SecurityGroupIDs
	}
	if b.opts.KeyName != "" {
		input.KeyName = aws.String(b.opts.KeyName)
	}

	out, err := b.api.RunInstances(ctx, input)
	if err != nil {
		return nil, classifyEC2(fmt.Errorf("failed to run instance: %w", err))
	}
	if len(out.Instances) == 0 || aws.ToString(out.Instances[0].InstanceId) == "" {
		return nil, fmt.Errorf("run instances returned no instance")
	}
	instanceID := aws.ToString(out.Instances[0].InstanceId)

	host, err := b.waitForRunning(ctx, instanceID)
	if err != nil {
		err = fmt.Errorf("instance %s: %w", instanceID, err)
		if cleanupErr := b.discard(instanceID); cleanupErr != nil {
			err = errors.Join(err, cleanupErr)
		}
		return nil, err
	}

	return &region.Instance{
		InstanceID:    instanceID,
		Region:        spec.Region,
		ConnectionURL: fmt.Sprintf("%s://%s:%d", b.opts.ConnectScheme, host, b.opts.ConnectPort),
		ProviderID:    instanceID,
	}, nil
}

// discard terminates an instance that never became a usable workstation. It must not use
// the launch context, which has often expired by then.
func (b *EC2Backend) discard(instanceID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	_, err := b.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}
	return nil
}

// waitForRunning polls the instance until it is running and has a public address
func (b *EC2Backend) waitForRunning(ctx context.Context, instanceID string) (string, error) {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		out, err := b.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil && !isNotFound(err) {
			return "", fmt.Errorf("failed to describe instance: %w", err)
		}
		if inst := firstInstance(out); inst != nil && inst.State != nil {
			switch inst.State.Name {
			case types.InstanceStateNameRunning:
				if host := publicHost(inst); host != "" {
					return host, nil
				}
			case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated, types.InstanceStateNameStopped:
				reason := "unknown reason"
				if inst.StateReason != nil {
					reason = aws.ToString(inst.StateReason.Message)
				}
				return "", fmt.Errorf("instance entered state %s: %s", inst.State.Name, reason)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func firstInstance(out *ec2.DescribeInstancesOutput) *types.Instance {
	if out == nil {
		return nil
	}
	for _, r := range out.Reservations {
		if len(r.Instances) > 0 {
			return &r.Instances[0]
		}
	}
	return nil
}

func publicHost(inst *types.Instance) string {
	if dns := aws.ToString(inst.PublicDnsName); dns != "" {
		return dns
	}
	return aws.ToString(inst.PublicIpAddress)
}

// isNotFound reports the eventual-consistency error EC2 returns right after RunInstances
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound"
}

func classifyEC2(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && ec2CapacityCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%w: %w", region.ErrNoCapacity, err)
	}
	return err
}
