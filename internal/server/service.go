package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ingestion"
	"github.com/omxlabs/amx-sub001/internal/persistence"
	"github.com/omxlabs/amx-sub001/internal/position"
	"github.com/omxlabs/amx-sub001/internal/query"
)

// SnapshotTaker takes one verified snapshot on demand.
type SnapshotTaker interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

// Service implements AmxServer on top of the query and ingest services.
// Admin calls that need the event log fail with Unavailable when it is not
// configured.
type Service struct {
	queries   *query.QueryService
	ingest    *ingestion.GRPCIngestService
	snapshots SnapshotTaker
	snapMgr   *persistence.SnapshotManager
}

func NewService(qs *query.QueryService, ingest *ingestion.GRPCIngestService, snapshots SnapshotTaker, snapMgr *persistence.SnapshotManager) *Service {
	return &Service{queries: qs, ingest: ingest, snapshots: snapshots, snapMgr: snapMgr}
}

var errNotConfigured = errors.New("not configured on this node")

func (s *Service) GetPrice(ctx context.Context, req *PriceRequest) (*query.PriceResponse, error) {
	resp, err := s.queries.GetPrice(ctx, req.Asset)
	return resp, toStatus(err)
}

func (s *Service) GetAum(ctx context.Context, _ *AumRequest) (*query.AumResponse, error) {
	resp, err := s.queries.GetAum(ctx)
	return resp, toStatus(err)
}

func (s *Service) GetFunding(ctx context.Context, req *FundingRequest) (*query.FundingResponse, error) {
	resp, err := s.queries.GetFunding(ctx, req.Asset)
	return resp, toStatus(err)
}

func (s *Service) GetAsset(ctx context.Context, req *AssetRequest) (*query.AssetResponse, error) {
	resp, err := s.queries.GetAsset(ctx, req.Token)
	return resp, toStatus(err)
}

func (s *Service) ListAssets(ctx context.Context, _ *ListAssetsRequest) (*ListAssetsResponse, error) {
	assets, err := s.queries.ListAssets(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListAssetsResponse{Assets: assets}, nil
}

func (s *Service) GetPosition(ctx context.Context, req *PositionRequest) (*query.PositionResponse, error) {
	if req.Account == "" || req.CollateralToken == "" || req.IndexToken == "" {
		return nil, status.Error(codes.InvalidArgument, "account, collateral_token and index_token are required")
	}
	resp, err := s.queries.GetPosition(ctx, position.Key{
		Account:         req.Account,
		CollateralToken: req.CollateralToken,
		IndexToken:      req.IndexToken,
		IsLong:          req.IsLong,
	})
	return resp, toStatus(err)
}

func (s *Service) ListPositions(ctx context.Context, req *ListPositionsRequest) (*ListPositionsResponse, error) {
	if req.Account == "" {
		return nil, status.Error(codes.InvalidArgument, "account is required")
	}
	positions, err := s.queries.GetPositions(ctx, req.Account)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListPositionsResponse{Positions: positions}, nil
}

func (s *Service) GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	resp, err := s.queries.GetBalance(ctx, req.Account, req.Token)
	return resp, toStatus(err)
}

func (s *Service) ListFundingHistory(ctx context.Context, req *FundingHistoryRequest) (*FundingHistoryResponse, error) {
	entries, err := s.queries.GetFundingHistory(ctx, req.Asset, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FundingHistoryResponse{Entries: entries}, nil
}

func (s *Service) ListJournals(ctx context.Context, req *JournalsRequest) (*JournalsResponse, error) {
	if req.Account == "" {
		return nil, status.Error(codes.InvalidArgument, "account is required")
	}
	journals, err := s.queries.GetJournalHistory(ctx, req.Account, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalsResponse{Journals: journals}, nil
}

// SubmitCommand applies one command and waits for its outcome. A rejection
// is returned as an error status carrying the rejection code.
func (s *Service) SubmitCommand(ctx context.Context, req *SubmitCommandRequest) (*SubmitCommandResponse, error) {
	evt, err := s.ingest.SubmitCommand(ctx, req.Command, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitCommandResponse{
		Command:        req.Command,
		IdempotencyKey: evt.IdempotencyKey(),
		Applied:        true,
	}, nil
}

func (s *Service) InjectPrice(ctx context.Context, req *InjectPriceRequest) (*InjectPriceResponse, error) {
	err := s.ingest.InjectPrice(ctx, req.FeedID, req.Price, req.Confidence, req.Exponent, req.PublishTime)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InjectPriceResponse{}, nil
}

func (s *Service) TakeSnapshot(ctx context.Context, _ *SnapshotRequest) (*SnapshotResponse, error) {
	if s.snapshots == nil {
		return nil, status.Error(codes.Unavailable, "snapshots "+errNotConfigured.Error())
	}
	seq, err := s.snapshots.TakeSnapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func (s *Service) VerifyIntegrity(ctx context.Context, _ *IntegrityRequest) (*query.IntegrityReport, error) {
	report, err := s.queries.VerifyIntegrity(ctx)
	return report, toStatus(err)
}

func (s *Service) GetEventLogInfo(ctx context.Context, _ *EventLogInfoRequest) (*EventLogInfoResponse, error) {
	if s.snapMgr == nil {
		return nil, status.Error(codes.Unavailable, "event log "+errNotConfigured.Error())
	}
	latest, err := s.snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &EventLogInfoResponse{LastSequence: latest}
	snap, err := s.snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if snap != nil {
		resp.SnapshotSequence = &snap.Sequence
	}
	return resp, nil
}

// toStatus maps a service error to a gRPC status. Rejections keep their
// error code as the message prefix so clients can match on it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, core.ErrSequencerStopped), errors.Is(err, query.ErrNoHistoryStore):
		code = codes.Unavailable
	case errors.Is(err, ingestion.ErrMalformedCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrPositionNotFound):
		code = codes.NotFound
	default:
		code = kindCode(errs.KindOf(err))
	}
	return status.Error(code, errs.Code(err)+": "+err.Error())
}

func kindCode(kind errs.Kind) codes.Code {
	switch kind {
	case errs.KindAuthorization:
		return codes.PermissionDenied
	case errs.KindConfiguration:
		return codes.InvalidArgument
	case errs.KindLifecycle, errs.KindOracle, errs.KindSolvency, errs.KindPosition:
		return codes.FailedPrecondition
	case errs.KindArithmetic:
		return codes.OutOfRange
	default:
		return codes.Internal
	}
}
