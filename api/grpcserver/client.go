package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ballast/infra/memory"
)

// Client calls ballast.v1.Diagnostics.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *Client) GetPhase(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, "GetPhase", &emptypb.Empty{}, out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// AdvancePhase asks the server to move to p and returns the phase it is in
// afterwards.
func (c *Client) AdvancePhase(ctx context.Context, p memory.Phase, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, "AdvancePhase", wrapperspb.String(p.String()), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// ListPools returns occupancy by pool name.
func (c *Client) ListPools(ctx context.Context, opts ...grpc.CallOption) (map[string]memory.PoolStats, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ListPools", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	pools := make(map[string]memory.PoolStats, len(out.GetFields()))
	for name, v := range out.GetFields() {
		f := v.GetStructValue().GetFields()
		pools[name] = memory.PoolStats{
			Capacity:  int(f["capacity"].GetNumberValue()),
			Live:      int(f["live"].GetNumberValue()),
			Free:      int(f["free"].GetNumberValue()),
			HighWater: int(f["high_water"].GetNumberValue()),
		}
	}
	return pools, nil
}

func (c *Client) Flush(ctx context.Context, opts ...grpc.CallOption) (uint64, error) {
	out := new(wrapperspb.UInt64Value)
	if err := c.invoke(ctx, "Flush", &emptypb.Empty{}, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}
