package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/identity"
	"chaptertrack/pkg/models"
	"chaptertrack/pkg/rpc/titlesync"
)

// GRPCStore talks to the TitleSync service. It has no cover upload; the
// sync engine pairs it with the HTTP uploader.
type GRPCStore struct {
	client *titlesync.Client
}

func NewGRPCStore(cc grpc.ClientConnInterface) *GRPCStore {
	return &GRPCStore{client: titlesync.NewClient(cc)}
}

// DialGRPC opens a plaintext connection; TLS is expected to terminate
// in front of the server.
func DialGRPC(addr string) (*grpc.ClientConn, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial grpc %s: %w", addr, err)
	}
	return cc, nil
}

var (
	_ Store       = (*GRPCStore)(nil)
	_ RecordStore = (*GRPCStore)(nil)
)

func (s *GRPCStore) Load(ctx context.Context, id identity.Identity) (models.TitlesDocument, error) {
	if err := id.Require(); err != nil {
		return models.TitlesDocument{}, err
	}
	resp, err := s.client.GetDocument(withToken(ctx, id), &titlesync.GetDocumentRequest{})
	if err != nil {
		return models.TitlesDocument{}, fromStatus("load document", err)
	}
	doc := resp.Document
	if doc.Titles == nil {
		doc.Titles = []models.Title{}
	}
	return doc, nil
}

func (s *GRPCStore) Save(ctx context.Context, id identity.Identity, titles []models.Title) (models.TitlesDocument, error) {
	if err := id.Require(); err != nil {
		return models.TitlesDocument{}, err
	}
	if titles == nil {
		titles = []models.Title{}
	}
	resp, err := s.client.PutDocument(withToken(ctx, id), &titlesync.PutDocumentRequest{Titles: titles})
	if err != nil {
		return models.TitlesDocument{}, fromStatus("save document", err)
	}
	return resp.Document, nil
}

func (s *GRPCStore) Records(ctx context.Context, id identity.Identity) ([]models.Title, error) {
	if err := id.Require(); err != nil {
		return nil, err
	}
	resp, err := s.client.ListRecords(withToken(ctx, id), &titlesync.ListRecordsRequest{})
	if err != nil {
		return nil, fromStatus("list records", err)
	}
	if resp.Items == nil {
		return []models.Title{}, nil
	}
	return resp.Items, nil
}

func (s *GRPCStore) Upsert(ctx context.Context, id identity.Identity, t models.Title) (models.Title, bool, error) {
	if err := id.Require(); err != nil {
		return models.Title{}, false, err
	}
	resp, err := s.client.UpsertRecord(withToken(ctx, id), &titlesync.UpsertRecordRequest{Title: t})
	if err != nil {
		return models.Title{}, false, fromStatus("upsert record", err)
	}
	return resp.Title, resp.Applied, nil
}

func (s *GRPCStore) Delete(ctx context.Context, id identity.Identity, titleID string) error {
	if err := id.Require(); err != nil {
		return err
	}
	if _, err := s.client.DeleteRecord(withToken(ctx, id), &titlesync.DeleteRecordRequest{ID: titleID}); err != nil {
		return fromStatus("delete record", err)
	}
	return nil
}

func withToken(ctx context.Context, id identity.Identity) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+id.Token)
}

func fromStatus(op string, err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return apperr.Wrap(apperr.CodeUnauthenticated, "server rejected the session, please log in again", err)
	case codes.InvalidArgument:
		return apperr.Wrap(apperr.CodeValidation, st.Message(), err)
	case codes.NotFound:
		return apperr.Wrap(apperr.CodeNotFound, st.Message(), err)
	default:
		return apperr.Network(op, err)
	}
}
