// Package launch drives a workstation launch request from user intent to a ready session
// or a reported failure.
package launch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/shehryarbajwa/cloud-workstations/internal/client"
	"github.com/shehryarbajwa/cloud-workstations/internal/logging"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

const (
	MsgLaunchFailed    = "Failed to launch workstation"
	MsgInvalidResponse = "Workstation service returned an invalid response"

	maxMessageRunes = 200
)

var (
	ErrUnknownOS     = errors.New("unknown os identifier")
	ErrLaunchPending = errors.New("a launch is in progress")
	ErrClosed        = errors.New("launch controller is closed")
)

// Launcher performs one provisioning request. *client.Client implements it.
type Launcher interface {
	Launch(ctx context.Context, os models.OSIdentifier) (*models.SessionDescriptor, error)
}

// Controller owns the launch state. Each Launch gets a sequence number and only the
// response to the latest one is applied.
type Controller struct {
	launcher Launcher
	logger   *log.Logger

	mu      sync.Mutex
	state   State
	seq     uint64
	cancel  context.CancelFunc
	subs    map[int]chan State
	nextSub int
	closed  bool

	wg sync.WaitGroup
}

// New creates a controller in the Idle state
func New(launcher Launcher, logger *log.Logger) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		launcher: launcher,
		logger:   logger,
		state:    Idle(),
		subs:     make(map[int]chan State),
	}
}

// Launch moves to Pending for os and issues one request in the background. A previous
// in-flight request is cancelled and its response, if any, is discarded.
func (c *Controller) Launch(os models.OSIdentifier) error {
	if !os.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOS, os)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setLocked(Pending(os))
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("launch issued", "seq", seq, "os", os)
	go c.run(ctx, cancel, seq, os)
	return nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, seq uint64, os models.OSIdentifier) {
	defer c.wg.Done()
	defer cancel()

	session, err := c.launcher.Launch(ctx, os)
	next := c.outcome(os, session, err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || seq != c.seq {
		c.logger.Debug("discarding stale response", "seq", seq, "latest", c.seq, "os", os)
		return
	}
	c.cancel = nil
	c.setLocked(next)

	if err != nil {
		c.logger.Warn("launch failed", "seq", seq, "os", os, "err", err)
	} else {
		c.logger.Info("workstation ready", "seq", seq, "os", os, "instance_id", session.InstanceID)
	}
}

func (c *Controller) outcome(os models.OSIdentifier, session *models.SessionDescriptor, err error) State {
	if err != nil {
		return Failed(failureMessage(err))
	}
	if session == nil || session.Validate() != nil || session.OSIdentifier != os ||
		session.Status != models.StatusRunning {
		return Failed(MsgInvalidResponse)
	}
	return Ready(*session)
}

// Reset returns to Idle from Ready or Failed. It is a no-op from Idle and refuses while a
// request is in flight.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Phase() {
	case PhaseIdle:
		return nil
	case PhasePending:
		return ErrLaunchPending
	}
	c.setLocked(Idle())
	return nil
}

// State returns the current snapshot
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel that receives the current state and then every transition.
// A slow reader only ever sees the newest state. Call the returned function to unsubscribe.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		ch <- c.state
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Wait blocks until the state leaves Pending and returns it
func (c *Controller) Wait(ctx context.Context) (State, error) {
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return c.State(), ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return c.State(), ErrClosed
			}
			if s.Phase() != PhasePending {
				return s, nil
			}
		}
	}
}

// Close cancels any in-flight request, closes every subscription and waits for
// background work to finish
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// setLocked replaces the state and publishes it; c.mu must be held
func (c *Controller) setLocked(s State) {
	c.state = s
	for _, ch := range c.subs {
		// drop an undelivered older state so the send never blocks
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// failureMessage turns a launch error into a short, user-safe message
func failureMessage(err error) string {
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return truncate(strings.TrimSpace(statusErr.Message), maxMessageRunes)
	}

	var malformed *client.MalformedResponseError
	if errors.As(err, &malformed) {
		return MsgInvalidResponse
	}

	return MsgLaunchFailed
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
