package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client sends control commands to a running lifecycle supervisor
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new control client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    10 * time.Second, // Default 10s timeout
	}
}

// SetTimeout sets the client timeout for commands
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends a command to the supervisor and waits for response
func (c *Client) SendCommand(cmd Command) (*Response, error) {
	// Connect to control socket
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to supervisor (is it running?): %w", err)
	}
	defer conn.Close()

	// Set overall deadline
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	// Send command
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	// Read response
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &resp, nil
}

// Ps lists every tracked resource.
func (c *Client) Ps() (*Response, error) {
	return c.SendCommand(Command{Type: "ps", Timestamp: time.Now()})
}

// Stuck lists resources currently in the Stuck state.
func (c *Client) Stuck() (*Response, error) {
	return c.SendCommand(Command{Type: "stuck", Timestamp: time.Now()})
}

// History requests the transition history for the given resource.
func (c *Client) History(resourceID string) (*Response, error) {
	return c.SendCommand(Command{Type: "history", ResourceID: resourceID, Timestamp: time.Now()})
}

// Retry asks the supervisor to retry the given resource in place.
func (c *Client) Retry(resourceID string) (*Response, error) {
	return c.SendCommand(Command{Type: "retry", ResourceID: resourceID, Timestamp: time.Now()})
}

// Transfer asks the supervisor to transfer the given resource to a new
// instance, optionally of a different resource type (carried in Metadata).
func (c *Client) Transfer(resourceID, toType string) (*Response, error) {
	return c.SendCommand(Command{
		Type:       "transfer",
		ResourceID: resourceID,
		Timestamp:  time.Now(),
		Metadata:   map[string]interface{}{"to_type": toType},
	})
}

// Escalate asks the supervisor to escalate the given resource to tier.
func (c *Client) Escalate(resourceID string, tier int) (*Response, error) {
	return c.SendCommand(Command{
		Type:       "escalate",
		ResourceID: resourceID,
		Timestamp:  time.Now(),
		Metadata:   map[string]interface{}{"tier": tier},
	})
}

// Abort asks the supervisor to abort the given resource with reason.
func (c *Client) Abort(resourceID, reason string) (*Response, error) {
	return c.SendCommand(Command{Type: "abort", ResourceID: resourceID, Reason: reason, Timestamp: time.Now()})
}
