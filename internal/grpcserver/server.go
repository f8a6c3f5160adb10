package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/auth"
	"chaptertrack/internal/cloud"
	"chaptertrack/pkg/rpc/titlesync"
)

type Server struct {
	Service *cloud.Service
}

func NewServer(svc *cloud.Service) *Server {
	return &Server{Service: svc}
}

var _ titlesync.TitleSyncServer = (*Server)(nil)

func (s *Server) GetDocument(ctx context.Context, _ *titlesync.GetDocumentRequest) (*titlesync.DocumentResponse, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := s.Service.Document(ctx, uid)
	if err != nil {
		return nil, toStatus(err, "load failed")
	}
	return &titlesync.DocumentResponse{Document: doc}, nil
}

func (s *Server) PutDocument(ctx context.Context, req *titlesync.PutDocumentRequest) (*titlesync.DocumentResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := s.Service.Replace(ctx, uid, req.Titles, "grpc")
	if err != nil {
		return nil, toStatus(err, "save failed")
	}
	return &titlesync.DocumentResponse{Document: doc}, nil
}

func (s *Server) ListRecords(ctx context.Context, _ *titlesync.ListRecordsRequest) (*titlesync.ListRecordsResponse, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.Service.Records(ctx, uid)
	if err != nil {
		return nil, toStatus(err, "list failed")
	}
	return &titlesync.ListRecordsResponse{Items: items}, nil
}

func (s *Server) UpsertRecord(ctx context.Context, req *titlesync.UpsertRecordRequest) (*titlesync.UpsertRecordResponse, error) {
	if req == nil || strings.TrimSpace(req.Title.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "title.id required")
	}
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	stored, applied, err := s.Service.Upsert(ctx, uid, req.Title, "grpc")
	if err != nil {
		return nil, toStatus(err, "save failed")
	}
	return &titlesync.UpsertRecordResponse{Applied: applied, Title: stored}, nil
}

func (s *Server) DeleteRecord(ctx context.Context, req *titlesync.DeleteRecordRequest) (*titlesync.DeleteRecordResponse, error) {
	if req == nil || strings.TrimSpace(req.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "id required")
	}
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Service.Delete(ctx, uid, strings.TrimSpace(req.ID), "grpc"); err != nil {
		return nil, toStatus(err, "delete failed")
	}
	return &titlesync.DeleteRecordResponse{}, nil
}

func toStatus(err error, fallback string) error {
	var ae *apperr.AppError
	switch {
	case errors.Is(err, apperr.ErrValidation) && errors.As(err, &ae):
		return status.Error(codes.InvalidArgument, ae.Message)
	case errors.Is(err, apperr.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	default:
		return status.Error(codes.Internal, fallback)
	}
}

type claimsKey struct{}

// UnaryAuth checks the bearer token in the "authorization" metadata the
// same way the HTTP middleware checks the header.
func UnaryAuth(tokens auth.TokenService, repo *auth.Repo) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var raw string
		if vals := md.Get("authorization"); len(vals) > 0 {
			raw, _ = auth.BearerToken(vals[0])
		}
		if raw == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}

		claims, err := auth.Authenticate(ctx, tokens, repo, raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(context.WithValue(ctx, claimsKey{}, claims), req)
	}
}

func userID(ctx context.Context) (string, error) {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	if claims == nil || claims.UserID == "" {
		return "", status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return claims.UserID, nil
}
