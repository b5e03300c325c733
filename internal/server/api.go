package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/omxlabs/amx-sub001/internal/query"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "amx.v1.Amx"

type PriceRequest struct {
	Asset string `json:"asset"`
}

type AumRequest struct{}

type FundingRequest struct {
	Asset string `json:"asset"`
}

type AssetRequest struct {
	Token string `json:"token"`
}

type ListAssetsRequest struct{}

type ListAssetsResponse struct {
	Assets []query.AssetResponse `json:"assets"`
}

type PositionRequest struct {
	Account         string `json:"account"`
	CollateralToken string `json:"collateral_token"`
	IndexToken      string `json:"index_token"`
	IsLong          bool   `json:"is_long"`
}

type ListPositionsRequest struct {
	Account string `json:"account"`
}

type ListPositionsResponse struct {
	Positions []query.PositionResponse `json:"positions"`
}

type BalanceRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
}

type FundingHistoryRequest struct {
	Asset string `json:"asset"`
	Limit int    `json:"limit"`
}

type FundingHistoryResponse struct {
	Entries []query.FundingHistoryEntry `json:"entries"`
}

type JournalsRequest struct {
	Account string `json:"account"`
	Limit   int    `json:"limit"`
	// BeforeSequence pages backwards; nil starts at the newest entry.
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

// SubmitCommandRequest carries one command in its NATS wire format.
type SubmitCommandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

type SubmitCommandResponse struct {
	Command        string `json:"command"`
	IdempotencyKey string `json:"idempotency_key"`
	Applied        bool   `json:"applied"`
}

type InjectPriceRequest struct {
	FeedID      string `json:"feed_id"`
	Price       int64  `json:"price"`
	Confidence  uint64 `json:"conf"`
	Exponent    int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type InjectPriceResponse struct{}

type SnapshotRequest struct{}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type IntegrityRequest struct{}

type EventLogInfoRequest struct{}

type EventLogInfoResponse struct {
	// LastSequence is -1 while the log is empty.
	LastSequence     int64  `json:"last_sequence"`
	SnapshotSequence *int64 `json:"snapshot_sequence,omitempty"`
}

// AmxServer is the server API of the amx.v1.Amx service.
type AmxServer interface {
	GetPrice(context.Context, *PriceRequest) (*query.PriceResponse, error)
	GetAum(context.Context, *AumRequest) (*query.AumResponse, error)
	GetFunding(context.Context, *FundingRequest) (*query.FundingResponse, error)
	GetAsset(context.Context, *AssetRequest) (*query.AssetResponse, error)
	ListAssets(context.Context, *ListAssetsRequest) (*ListAssetsResponse, error)
	GetPosition(context.Context, *PositionRequest) (*query.PositionResponse, error)
	ListPositions(context.Context, *ListPositionsRequest) (*ListPositionsResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*query.BalanceResponse, error)
	ListFundingHistory(context.Context, *FundingHistoryRequest) (*FundingHistoryResponse, error)
	ListJournals(context.Context, *JournalsRequest) (*JournalsResponse, error)
	SubmitCommand(context.Context, *SubmitCommandRequest) (*SubmitCommandResponse, error)
	InjectPrice(context.Context, *InjectPriceRequest) (*InjectPriceResponse, error)
	TakeSnapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
	VerifyIntegrity(context.Context, *IntegrityRequest) (*query.IntegrityReport, error)
	GetEventLogInfo(context.Context, *EventLogInfoRequest) (*EventLogInfoResponse, error)
}

func unary[Req, Resp any](name string, call func(AmxServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AmxServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AmxServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes amx.v1.Amx for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AmxServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetPrice", AmxServer.GetPrice),
		unary("GetAum", AmxServer.GetAum),
		unary("GetFunding", AmxServer.GetFunding),
		unary("GetAsset", AmxServer.GetAsset),
		unary("ListAssets", AmxServer.ListAssets),
		unary("GetPosition", AmxServer.GetPosition),
		unary("ListPositions", AmxServer.ListPositions),
		unary("GetBalance", AmxServer.GetBalance),
		unary("ListFundingHistory", AmxServer.ListFundingHistory),
		unary("ListJournals", AmxServer.ListJournals),
		unary("SubmitCommand", AmxServer.SubmitCommand),
		unary("InjectPrice", AmxServer.InjectPrice),
		unary("TakeSnapshot", AmxServer.TakeSnapshot),
		unary("VerifyIntegrity", AmxServer.VerifyIntegrity),
		unary("GetEventLogInfo", AmxServer.GetEventLogInfo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "amx/v1/amx",
}

func RegisterAmxServer(s grpc.ServiceRegistrar, srv AmxServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls amx.v1.Amx over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPrice(ctx context.Context, in *PriceRequest, opts ...grpc.CallOption) (*query.PriceResponse, error) {
	return invoke[query.PriceResponse](ctx, c.cc, "GetPrice", in, opts)
}

func (c *Client) GetAum(ctx context.Context, in *AumRequest, opts ...grpc.CallOption) (*query.AumResponse, error) {
	return invoke[query.AumResponse](ctx, c.cc, "GetAum", in, opts)
}

func (c *Client) GetFunding(ctx context.Context, in *FundingRequest, opts ...grpc.CallOption) (*query.FundingResponse, error) {
	return invoke[query.FundingResponse](ctx, c.cc, "GetFunding", in, opts)
}

func (c *Client) GetAsset(ctx context.Context, in *AssetRequest, opts ...grpc.CallOption) (*query.AssetResponse, error) {
	return invoke[query.AssetResponse](ctx, c.cc, "GetAsset", in, opts)
}

func (c *Client) ListAssets(ctx context.Context, in *ListAssetsRequest, opts ...grpc.CallOption) (*ListAssetsResponse, error) {
	return invoke[ListAssetsResponse](ctx, c.cc, "ListAssets", in, opts)
}

func (c *Client) GetPosition(ctx context.Context, in *PositionRequest, opts ...grpc.CallOption) (*query.PositionResponse, error) {
	return invoke[query.PositionResponse](ctx, c.cc, "GetPosition", in, opts)
}

func (c *Client) ListPositions(ctx context.Context, in *ListPositionsRequest, opts ...grpc.CallOption) (*ListPositionsResponse, error) {
	return invoke[ListPositionsResponse](ctx, c.cc, "ListPositions", in, opts)
}

func (c *Client) GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*query.BalanceResponse, error) {
	return invoke[query.BalanceResponse](ctx, c.cc, "GetBalance", in, opts)
}

func (c *Client) ListFundingHistory(ctx context.Context, in *FundingHistoryRequest, opts ...grpc.CallOption) (*FundingHistoryResponse, error) {
	return invoke[FundingHistoryResponse](ctx, c.cc, "ListFundingHistory", in, opts)
}

func (c *Client) ListJournals(ctx context.Context, in *JournalsRequest, opts ...grpc.CallOption) (*JournalsResponse, error) {
	return invoke[JournalsResponse](ctx, c.cc, "ListJournals", in, opts)
}

func (c *Client) SubmitCommand(ctx context.Context, in *SubmitCommandRequest, opts ...grpc.CallOption) (*SubmitCommandResponse, error) {
	return invoke[SubmitCommandResponse](ctx, c.cc, "SubmitCommand", in, opts)
}

func (c *Client) InjectPrice(ctx context.Context, in *InjectPriceRequest, opts ...grpc.CallOption) (*InjectPriceResponse, error) {
	return invoke[InjectPriceResponse](ctx, c.cc, "InjectPrice", in, opts)
}

func (c *Client) TakeSnapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*SnapshotResponse, error) {
	return invoke[SnapshotResponse](ctx, c.cc, "TakeSnapshot", in, opts)
}

func (c *Client) VerifyIntegrity(ctx context.Context, in *IntegrityRequest, opts ...grpc.CallOption) (*query.IntegrityReport, error) {
	return invoke[query.IntegrityReport](ctx, c.cc, "VerifyIntegrity", in, opts)
}

func (c *Client) GetEventLogInfo(ctx context.Context, in *EventLogInfoRequest, opts ...grpc.CallOption) (*EventLogInfoResponse, error) {
	return invoke[EventLogInfoResponse](ctx, c.cc, "GetEventLogInfo", in, opts)
}
