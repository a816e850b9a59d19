package grpcapi

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/example/learning-platform/services/progress/internal/service"
	"github.com/example/learning-platform/services/progress/internal/store"
)

const serviceName = "learning.progress.v1.ProgressService"

// ProgressServiceServer is the server API of learning.progress.v1.ProgressService.
type ProgressServiceServer interface {
	GetProgress(context.Context, *GetProgressRequest) (*GetProgressResponse, error)
	UpsertProgress(context.Context, *UpsertProgressRequest) (*UpsertProgressResponse, error)
	GetSubjectAggregates(context.Context, *AggregatesRequest) (*AggregatesResponse, error)
	GetCategoryAggregates(context.Context, *AggregatesRequest) (*AggregatesResponse, error)
	CheckEpisodeAccess(context.Context, *CheckEpisodeAccessRequest) (*CheckEpisodeAccessResponse, error)
}

// ProgressService adapts service.Service to the gRPC surface. Callers are
// trusted internal services; the user id travels in the request.
type ProgressService struct {
	Service *service.Service
}

func (s *ProgressService) GetProgress(ctx context.Context, req *GetProgressRequest) (*GetProgressResponse, error) {
	userID, err := parseID("user_id", req.UserID, false)
	if err != nil {
		return nil, err
	}
	epID, err := parseID("episode_id", req.EpisodeID, false)
	if err != nil {
		return nil, err
	}
	rec, err := s.Service.GetProgress(ctx, userID, epID)
	if err != nil {
		return nil, err
	}
	return &GetProgressResponse{Progress: rec}, nil
}

func (s *ProgressService) UpsertProgress(ctx context.Context, req *UpsertProgressRequest) (*UpsertProgressResponse, error) {
	userID, err := parseID("user_id", req.UserID, false)
	if err != nil {
		return nil, err
	}
	epID, err := parseID("episode_id", req.EpisodeID, false)
	if err != nil {
		return nil, err
	}
	res, err := s.Service.SaveProgress(ctx, userID, epID, store.Update{
		WatchedPercent:      req.WatchedPercent,
		LastPositionSeconds: req.LastPositionSeconds,
	})
	if err != nil {
		return nil, err
	}
	return &UpsertProgressResponse{Progress: res.Record}, nil
}

func (s *ProgressService) GetSubjectAggregates(ctx context.Context, req *AggregatesRequest) (*AggregatesResponse, error) {
	userID, ids, err := parseAggregatesRequest(req)
	if err != nil {
		return nil, err
	}
	items, err := s.Service.SubjectAggregates(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	return &AggregatesResponse{Items: items}, nil
}

func (s *ProgressService) GetCategoryAggregates(ctx context.Context, req *AggregatesRequest) (*AggregatesResponse, error) {
	userID, ids, err := parseAggregatesRequest(req)
	if err != nil {
		return nil, err
	}
	items, err := s.Service.CategoryAggregates(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	return &AggregatesResponse{Items: items}, nil
}

func (s *ProgressService) CheckEpisodeAccess(ctx context.Context, req *CheckEpisodeAccessRequest) (*CheckEpisodeAccessResponse, error) {
	userID, err := parseID("user_id", req.UserID, true)
	if err != nil {
		return nil, err
	}
	epID, err := parseID("episode_id", req.EpisodeID, false)
	if err != nil {
		return nil, err
	}
	ok, err := s.Service.CheckAccess(ctx, userID, epID)
	if err != nil {
		return nil, err
	}
	return &CheckEpisodeAccessResponse{Accessible: ok}, nil
}

func parseAggregatesRequest(req *AggregatesRequest) (uuid.UUID, []uuid.UUID, error) {
	userID, err := parseID("user_id", req.UserID, true)
	if err != nil {
		return uuid.Nil, nil, err
	}
	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := parseID("ids", raw, false)
		if err != nil {
			return uuid.Nil, nil, err
		}
		ids = append(ids, id)
	}
	return userID, ids, nil
}

// parseID parses a uuid field; an empty value is uuid.Nil when optional.
func parseID(field, raw string, optional bool) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" && optional {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, service.InvalidArgument("INVALID_ARGUMENT", "invalid "+field, map[string]string{field: "must be a uuid"})
	}
	return id, nil
}

// RegisterProgressServiceServer registers srv on s.
func RegisterProgressServiceServer(s grpc.ServiceRegistrar, srv ProgressServiceServer) {
	s.RegisterService(&ProgressServiceDesc, srv)
}

// ProgressServiceDesc is the descriptor of learning.progress.v1.ProgressService.
var ProgressServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProgressServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetProgress", Handler: unaryHandler("GetProgress", func(srv ProgressServiceServer, ctx context.Context, req *GetProgressRequest) (any, error) {
			return srv.GetProgress(ctx, req)
		})},
		{MethodName: "UpsertProgress", Handler: unaryHandler("UpsertProgress", func(srv ProgressServiceServer, ctx context.Context, req *UpsertProgressRequest) (any, error) {
			return srv.UpsertProgress(ctx, req)
		})},
		{MethodName: "GetSubjectAggregates", Handler: unaryHandler("GetSubjectAggregates", func(srv ProgressServiceServer, ctx context.Context, req *AggregatesRequest) (any, error) {
			return srv.GetSubjectAggregates(ctx, req)
		})},
		{MethodName: "GetCategoryAggregates", Handler: unaryHandler("GetCategoryAggregates", func(srv ProgressServiceServer, ctx context.Context, req *AggregatesRequest) (any, error) {
			return srv.GetCategoryAggregates(ctx, req)
		})},
		{MethodName: "CheckEpisodeAccess", Handler: unaryHandler("CheckEpisodeAccess", func(srv ProgressServiceServer, ctx context.Context, req *CheckEpisodeAccessRequest) (any, error) {
			return srv.CheckEpisodeAccess(ctx, req)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "learning/progress/v1/progress.json",
}

// unaryHandler builds the grpc.MethodDesc handler for one method, following the
// shape protoc-gen-go-grpc emits.
func unaryHandler[Req any](method string, call func(ProgressServiceServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ProgressServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ProgressServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
