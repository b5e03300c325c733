package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// gateway serves the HTTP/JSON surface. Handlers call the AmxServer in
// process, so HTTP and gRPC clients see the same statuses.
type gateway struct {
	srv       AmxServer
	marshaler runtime.Marshaler
}

// NewGatewayMux returns a grpc-gateway mux with every HTTP route bound.
func NewGatewayMux(srv AmxServer) (*runtime.ServeMux, error) {
	g := &gateway{srv: srv, marshaler: &runtime.JSONBuiltin{}}
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/price/{asset}", g.price},
		{http.MethodGet, "/v1/aum", g.aum},
		{http.MethodGet, "/v1/funding/{asset}", g.funding},
		{http.MethodGet, "/v1/funding/{asset}/history", g.fundingHistory},
		{http.MethodGet, "/v1/assets", g.assets},
		{http.MethodGet, "/v1/assets/{token}", g.asset},
		{http.MethodGet, "/v1/positions/{account}", g.positions},
		{http.MethodGet, "/v1/positions/{account}/{collateral}/{index}/{side}", g.position},
		{http.MethodGet, "/v1/balances/{account}/{token}", g.balance},
		{http.MethodGet, "/v1/journals/{account}", g.journals},
		{http.MethodPost, "/v1/commands/{command}", g.submit},
		{http.MethodPost, "/v1/admin/prices", g.injectPrice},
		{http.MethodPost, "/v1/admin/snapshot", g.snapshot},
		{http.MethodGet, "/v1/admin/integrity", g.integrity},
		{http.MethodGet, "/v1/admin/eventlog", g.eventLog},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (g *gateway) write(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		g.writeError(w, err)
		return
	}
	body, err := g.marshaler.Marshal(resp)
	if err != nil {
		g.writeError(w, status.Error(codes.Internal, err.Error()))
		return
	}
	w.Header().Set("Content-Type", g.marshaler.ContentType(resp))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (g *gateway) writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	body, _ := g.marshaler.Marshal(map[string]string{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
	w.Header().Set("Content-Type", g.marshaler.ContentType(nil))
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	w.Write(body)
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return n, nil
}

func (g *gateway) price(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.GetPrice(r.Context(), &PriceRequest{Asset: p["asset"]})
	g.write(w, resp, err)
}

func (g *gateway) aum(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.srv.GetAum(r.Context(), &AumRequest{})
	g.write(w, resp, err)
}

func (g *gateway) funding(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.GetFunding(r.Context(), &FundingRequest{Asset: p["asset"]})
	g.write(w, resp, err)
}

func (g *gateway) fundingHistory(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.writeError(w, err)
		return
	}
	resp, err := g.srv.ListFundingHistory(r.Context(), &FundingHistoryRequest{Asset: p["asset"], Limit: limit})
	g.write(w, resp, err)
}

func (g *gateway) assets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.srv.ListAssets(r.Context(), &ListAssetsRequest{})
	g.write(w, resp, err)
}

func (g *gateway) asset(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.GetAsset(r.Context(), &AssetRequest{Token: p["token"]})
	g.write(w, resp, err)
}

func (g *gateway) positions(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.ListPositions(r.Context(), &ListPositionsRequest{Account: p["account"]})
	g.write(w, resp, err)
}

func (g *gateway) position(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var isLong bool
	switch p["side"] {
	case "long":
		isLong = true
	case "short":
	default:
		g.writeError(w, status.Errorf(codes.InvalidArgument, "side must be long or short, got %q", p["side"]))
		return
	}
	resp, err := g.srv.GetPosition(r.Context(), &PositionRequest{
		Account:         p["account"],
		CollateralToken: p["collateral"],
		IndexToken:      p["index"],
		IsLong:          isLong,
	})
	g.write(w, resp, err)
}

func (g *gateway) balance(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.GetBalance(r.Context(), &BalanceRequest{Account: p["account"], Token: p["token"]})
	g.write(w, resp, err)
}

func (g *gateway) journals(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.writeError(w, err)
		return
	}
	req := &JournalsRequest{Account: p["account"], Limit: limit}
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		before, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			g.writeError(w, status.Errorf(codes.InvalidArgument, "before_sequence: %v", err))
			return
		}
		req.BeforeSequence = &before
	}
	resp, err := g.srv.ListJournals(r.Context(), req)
	g.write(w, resp, err)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
	}
	return body, nil
}

// submit takes the command's wire JSON as the request body.
func (g *gateway) submit(w http.ResponseWriter, r *http.Request, p map[string]string) {
	body, err := readBody(r)
	if err != nil {
		g.writeError(w, err)
		return
	}
	resp, err := g.srv.SubmitCommand(r.Context(), &SubmitCommandRequest{Command: p["command"], Payload: body})
	g.write(w, resp, err)
}

func (g *gateway) injectPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := readBody(r)
	if err != nil {
		g.writeError(w, err)
		return
	}
	var req InjectPriceRequest
	if err := g.marshaler.Unmarshal(body, &req); err != nil {
		g.writeError(w, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
		return
	}
	resp, err := g.srv.InjectPrice(r.Context(), &req)
	g.write(w, resp, err)
}

func (g *gateway) snapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.srv.TakeSnapshot(r.Context(), &SnapshotRequest{})
	g.write(w, resp, err)
}

func (g *gateway) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.srv.VerifyIntegrity(r.Context(), &IntegrityRequest{})
	g.write(w, resp, err)
}

func (g *gateway) eventLog(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.srv.GetEventLogInfo(r.Context(), &EventLogInfoRequest{})
	g.write(w, resp, err)
}
