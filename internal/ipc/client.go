package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks whether the daemon is alive.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Pulmo.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Pulmo.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit admits a diagnostic file by path.
func (c *Client) Submit(path string, attrs map[string]any) (*SubmitResponse, error) {
	var resp SubmitResponse
	req := SubmitRequest{Path: path, Attributes: attrs}
	if err := c.client.Call("Pulmo.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns registry entries optionally filtered by stages.
func (c *Client) List(stages []string) (*ListResponse, error) {
	var resp ListResponse
	req := ListRequest{Stages: stages}
	if err := c.client.Call("Pulmo.List", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Describe returns details for a single request.
func (c *Client) Describe(id string) (*DescribeResponse, error) {
	var resp DescribeResponse
	req := DescribeRequest{ID: id}
	if err := c.client.Call("Pulmo.Describe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report fetches the finished report for a completed request.
func (c *Client) Report(id string) (*ReportResponse, error) {
	var resp ReportResponse
	req := ReportRequest{ID: id}
	if err := c.client.Call("Pulmo.Report", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clear removes all requests from the registry.
func (c *Client) Clear() (*ClearResponse, error) {
	var resp ClearResponse
	if err := c.client.Call("Pulmo.Clear", ClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCompleted removes only completed requests.
func (c *Client) ClearCompleted() (*ClearCompletedResponse, error) {
	var resp ClearCompletedResponse
	if err := c.client.Call("Pulmo.ClearCompleted", ClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearFailed removes failed requests.
func (c *Client) ClearFailed() (*ClearFailedResponse, error) {
	var resp ClearFailedResponse
	if err := c.client.Call("Pulmo.ClearFailed", ClearFailedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns aggregate registry diagnostics.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.client.Call("Pulmo.Health", HealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Pulmo.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Pulmo.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
