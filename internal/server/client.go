package server

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
)

// Client is a typed client for mstp.v1.MstpService.
type Client struct {
	getBridge        *connect.Client[GetBridgeRequest, GetBridgeResponse]
	listPorts        *connect.Client[ListPortsRequest, ListPortsResponse]
	getPort          *connect.Client[GetPortRequest, GetPortResponse]
	listInstances    *connect.Client[ListInstancesRequest, ListInstancesResponse]
	getInstance      *connect.Client[GetInstanceRequest, GetInstanceResponse]
	setPortConfig    *connect.Client[SetPortConfigRequest, SetPortConfigResponse]
	setBridgeConfig  *connect.Client[SetBridgeConfigRequest, SetBridgeConfigResponse]
	setInstanceVLANs *connect.Client[SetInstanceVLANsRequest, SetInstanceVLANsResponse]
	clearStats       *connect.Client[ClearStatsRequest, ClearStatsResponse]
	watchEvents      *connect.Client[WatchEventsRequest, WatchEventsResponse]
}

// NewClient returns a client for the daemon at baseURL, for example
// "http://localhost:50052".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSON()}, opts...)
	return &Client{
		getBridge: connect.NewClient[GetBridgeRequest, GetBridgeResponse](
			httpClient, baseURL+GetBridgeProcedure, opts...),
		listPorts: connect.NewClient[ListPortsRequest, ListPortsResponse](
			httpClient, baseURL+ListPortsProcedure, opts...),
		getPort: connect.NewClient[GetPortRequest, GetPortResponse](
			httpClient, baseURL+GetPortProcedure, opts...),
		listInstances: connect.NewClient[ListInstancesRequest, ListInstancesResponse](
			httpClient, baseURL+ListInstancesProcedure, opts...),
		getInstance: connect.NewClient[GetInstanceRequest, GetInstanceResponse](
			httpClient, baseURL+GetInstanceProcedure, opts...),
		setPortConfig: connect.NewClient[SetPortConfigRequest, SetPortConfigResponse](
			httpClient, baseURL+SetPortConfigProcedure, opts...),
		setBridgeConfig: connect.NewClient[SetBridgeConfigRequest, SetBridgeConfigResponse](
			httpClient, baseURL+SetBridgeConfigProcedure, opts...),
		setInstanceVLANs: connect.NewClient[SetInstanceVLANsRequest, SetInstanceVLANsResponse](
			httpClient, baseURL+SetInstanceVLANsProcedure, opts...),
		clearStats: connect.NewClient[ClearStatsRequest, ClearStatsResponse](
			httpClient, baseURL+ClearStatsProcedure, opts...),
		watchEvents: connect.NewClient[WatchEventsRequest, WatchEventsResponse](
			httpClient, baseURL+WatchEventsProcedure, opts...),
	}
}

// unary sends req and unwraps the response message.
func unary[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) GetBridge(ctx context.Context) (*Bridge, error) {
	resp, err := unary(ctx, c.getBridge, &GetBridgeRequest{})
	if err != nil {
		return nil, err
	}
	return &resp.Bridge, nil
}

func (c *Client) ListPorts(ctx context.Context) ([]Port, error) {
	resp, err := unary(ctx, c.listPorts, &ListPortsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Ports, nil
}

func (c *Client) GetPort(ctx context.Context, sel PortSelector) (*Port, error) {
	resp, err := unary(ctx, c.getPort, &GetPortRequest{Port: sel})
	if err != nil {
		return nil, err
	}
	return &resp.Port, nil
}

func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	resp, err := unary(ctx, c.listInstances, &ListInstancesRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

func (c *Client) GetInstance(ctx context.Context, mstid uint16) (*Instance, error) {
	resp, err := unary(ctx, c.getInstance, &GetInstanceRequest{MSTID: mstid})
	if err != nil {
		return nil, err
	}
	return &resp.Instance, nil
}

func (c *Client) SetPortConfig(ctx context.Context, req *SetPortConfigRequest) (*Port, error) {
	resp, err := unary(ctx, c.setPortConfig, req)
	if err != nil {
		return nil, err
	}
	return &resp.Port, nil
}

func (c *Client) SetBridgeConfig(ctx context.Context, req *SetBridgeConfigRequest) (*Bridge, error) {
	resp, err := unary(ctx, c.setBridgeConfig, req)
	if err != nil {
		return nil, err
	}
	return &resp.Bridge, nil
}

// SetInstanceVLANs returns nil when the empty set removed the instance.
func (c *Client) SetInstanceVLANs(ctx context.Context, mstid uint16, vlans string) (*Instance, error) {
	resp, err := unary(ctx, c.setInstanceVLANs, &SetInstanceVLANsRequest{MSTID: mstid, VLANs: vlans})
	if err != nil {
		return nil, err
	}
	return resp.Instance, nil
}

func (c *Client) ClearStats(ctx context.Context, sel PortSelector) error {
	_, err := unary(ctx, c.clearStats, &ClearStatsRequest{Port: sel})
	return err
}

// WatchEvents calls fn for each streamed event until ctx is cancelled, the
// server ends the stream, or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, kinds []string, fn func(Event) error) error {
	stream, err := c.watchEvents.CallServerStream(ctx, connect.NewRequest(&WatchEventsRequest{Kinds: kinds}))
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	for stream.Receive() {
		if err := fn(stream.Msg().Event); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch events: %w", err)
	}
	return nil
}
