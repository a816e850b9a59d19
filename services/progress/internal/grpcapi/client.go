package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ProgressClient calls learning.progress.v1.ProgressService.
type ProgressClient struct {
	Conn *grpc.ClientConn
}

func NewProgressClient(addr string, opts ...grpc.DialOption) (*ProgressClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ProgressClient{Conn: conn}, nil
}

func (c *ProgressClient) Close() error { return c.Conn.Close() }

func (c *ProgressClient) GetProgress(ctx context.Context, req *GetProgressRequest) (*GetProgressResponse, error) {
	out := new(GetProgressResponse)
	if err := c.Conn.Invoke(ctx, "/"+serviceName+"/GetProgress", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ProgressClient) UpsertProgress(ctx context.Context, req *UpsertProgressRequest) (*UpsertProgressResponse, error) {
	out := new(UpsertProgressResponse)
	if err := c.Conn.Invoke(ctx, "/"+serviceName+"/UpsertProgress", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ProgressClient) GetSubjectAggregates(ctx context.Context, req *AggregatesRequest) (*AggregatesResponse, error) {
	out := new(AggregatesResponse)
	if err := c.Conn.Invoke(ctx, "/"+serviceName+"/GetSubjectAggregates", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ProgressClient) GetCategoryAggregates(ctx context.Context, req *AggregatesRequest) (*AggregatesResponse, error) {
	out := new(AggregatesResponse)
	if err := c.Conn.Invoke(ctx, "/"+serviceName+"/GetCategoryAggregates", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ProgressClient) CheckEpisodeAccess(ctx context.Context, req *CheckEpisodeAccessRequest) (*CheckEpisodeAccessResponse, error) {
	out := new(CheckEpisodeAccessResponse)
	if err := c.Conn.Invoke(ctx, "/"+serviceName+"/CheckEpisodeAccess", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
