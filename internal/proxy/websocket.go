package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/cloud-workstations/internal/logging"
	"github.com/shehryarbajwa/cloud-workstations/internal/region"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Resolver finds the workstation behind an instance id
type Resolver interface {
	Lookup(instanceID string) (*region.Instance, bool)
}

// Server relays browser websocket connections to a workstation's remote-desktop endpoint
type Server struct {
	instances   Resolver
	logger      *log.Logger
	dialTimeout time.Duration
}

func NewServer(instances Resolver, logger *log.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		instances:   instances,
		logger:      logger,
		dialTimeout: 10 * time.Second,
	}
}

// HandleConnection dials the workstation first so an unreachable desktop is reported as a
// plain HTTP error, then upgrades the client and relays frames both ways
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request, instanceID string) {
	inst, ok := s.instances.Lookup(instanceID)
	if !ok {
		http.Error(w, "Workstation not found", http.StatusNotFound)
		return
	}

	logger := s.logger.With("instance_id", instanceID)

	ctx, cancel := context.WithTimeout(r.Context(), s.dialTimeout)
	defer cancel()

	dialer := *websocket.DefaultDialer
	// noVNC negotiates "binary"; pass whatever the browser asked for through
	dialer.Subprotocols = websocket.Subprotocols(r)

	upstream, _, err := dialer.DialContext(ctx, inst.Upstream, nil)
	if err != nil {
		logger.Error("failed to reach workstation", "upstream", inst.Upstream, "err", err)
		http.Error(w, "Workstation is not reachable", http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	var header http.Header
	if proto := upstream.Subprotocol(); proto != "" {
		header = http.Header{"Sec-Websocket-Protocol": {proto}}
	}

	clientConn, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		logger.Warn("failed to upgrade connection", "err", err)
		return
	}
	defer clientConn.Close()

	logger.Info("client connected to workstation")

	errChan := make(chan error, 2)

	go func() {
		errChan <- relay(clientConn, upstream)
	}()

	go func() {
		errChan <- relay(upstream, clientConn)
	}()

	// either direction closing ends the session
	err = <-errChan
	if err != nil && !isNormalClose(err) {
		logger.Warn("relay ended with error", "err", err)
	}

	logger.Info("client disconnected from workstation")
}

func relay(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				_ = dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeErr.Code, closeErr.Text),
					time.Now().Add(time.Second))
			}
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
