// Package titlesync is the gRPC contract of the title sync service.
// Messages are plain Go structs carried with a JSON codec, so there is
// no generated code; the service descriptor below is maintained by hand.
package titlesync

import (
	"context"

	"google.golang.org/grpc"

	"chaptertrack/pkg/models"
)

const ServiceName = "chaptertrack.titlesync.v1.TitleSync"

type GetDocumentRequest struct{}

type PutDocumentRequest struct {
	Titles []models.Title `json:"titles"`
}

type DocumentResponse struct {
	Document models.TitlesDocument `json:"document"`
}

type ListRecordsRequest struct{}

type ListRecordsResponse struct {
	Items []models.Title `json:"items"`
}

type UpsertRecordRequest struct {
	Title models.Title `json:"title"`
}

type UpsertRecordResponse struct {
	Applied bool         `json:"applied"`
	Title   models.Title `json:"title"`
}

type DeleteRecordRequest struct {
	ID string `json:"id"`
}

type DeleteRecordResponse struct{}

type TitleSyncServer interface {
	GetDocument(context.Context, *GetDocumentRequest) (*DocumentResponse, error)
	PutDocument(context.Context, *PutDocumentRequest) (*DocumentResponse, error)
	ListRecords(context.Context, *ListRecordsRequest) (*ListRecordsResponse, error)
	UpsertRecord(context.Context, *UpsertRecordRequest) (*UpsertRecordResponse, error)
	DeleteRecord(context.Context, *DeleteRecordRequest) (*DeleteRecordResponse, error)
}

func RegisterTitleSyncServer(s grpc.ServiceRegistrar, srv TitleSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TitleSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetDocument", TitleSyncServer.GetDocument),
		unary("PutDocument", TitleSyncServer.PutDocument),
		unary("ListRecords", TitleSyncServer.ListRecords),
		unary("UpsertRecord", TitleSyncServer.UpsertRecord),
		unary("DeleteRecord", TitleSyncServer.DeleteRecord),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "titlesync",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(TitleSyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TitleSyncServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TitleSyncServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client calls TitleSync over cc.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetDocument(ctx context.Context, in *GetDocumentRequest, opts ...grpc.CallOption) (*DocumentResponse, error) {
	out := new(DocumentResponse)
	return out, c.invoke(ctx, "GetDocument", in, out, opts)
}

func (c *Client) PutDocument(ctx context.Context, in *PutDocumentRequest, opts ...grpc.CallOption) (*DocumentResponse, error) {
	out := new(DocumentResponse)
	return out, c.invoke(ctx, "PutDocument", in, out, opts)
}

func (c *Client) ListRecords(ctx context.Context, in *ListRecordsRequest, opts ...grpc.CallOption) (*ListRecordsResponse, error) {
	out := new(ListRecordsResponse)
	return out, c.invoke(ctx, "ListRecords", in, out, opts)
}

func (c *Client) UpsertRecord(ctx context.Context, in *UpsertRecordRequest, opts ...grpc.CallOption) (*UpsertRecordResponse, error) {
	out := new(UpsertRecordResponse)
	return out, c.invoke(ctx, "UpsertRecord", in, out, opts)
}

func (c *Client) DeleteRecord(ctx context.Context, in *DeleteRecordRequest, opts ...grpc.CallOption) (*DeleteRecordResponse, error) {
	out := new(DeleteRecordResponse)
	return out, c.invoke(ctx, "DeleteRecord", in, out, opts)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}
