package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ruteri/dlt-service-federation/api"
	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

const (
	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024

	// maxEventsPage bounds a single events response.
	maxEventsPage = 1000
)

// Ledger is what the node serves. ledger.Local implements it.
type Ledger interface {
	interfaces.FederationReader
	interfaces.EventSource
	Lookup(ctx context.Context, identity interfaces.Identity) (string, error)
	Submit(ctx context.Context, txHash interfaces.TxHash, tx federation.Tx) (*interfaces.Receipt, error)
}

// Handler serves the federation ledger API.
type Handler struct {
	ledger Ledger
	log    *slog.Logger
}

func NewHandler(ledger Ledger, log *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		log:    log,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := api.StatusForError(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	}
	h.writeJSON(w, status, api.NewErrorResponse(err))
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", interfaces.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// HandleSubmitTx verifies a signed transaction and submits it to the ledger.
//
// URL format: POST /api/v1/tx
// Request body: api.SignedTx
// Response: api.TxResponse
func (h *Handler) HandleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, badRequest("failed to read request body"))
		return
	}

	var signed api.SignedTx
	if err := json.Unmarshal(body, &signed); err != nil {
		h.writeError(w, badRequest("invalid transaction envelope: %v", err))
		return
	}

	tx, err := signed.Verify()
	if err != nil {
		h.log.Warn("Rejected transaction envelope", "err", err)
		h.writeError(w, err)
		return
	}

	receipt, err := h.ledger.Submit(r.Context(), signed.Hash(), tx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.TxResponse{Receipt: receipt}
	if index, ok := receipt.BidIndex(); ok && tx.Op == federation.OpPlaceBid {
		resp.BidIndex = &index
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleReceipt returns the receipt of a committed transaction.
//
// URL format: GET /api/v1/tx/{hash}
func (h *Handler) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	var txHash interfaces.TxHash
	if err := txHash.UnmarshalText([]byte(r.PathValue("hash"))); err != nil {
		h.writeError(w, badRequest("invalid transaction hash: %v", err))
		return
	}

	receipt, err := h.ledger.Receipt(r.Context(), txHash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// HandleOperator returns the name of a registered operator.
//
// URL format: GET /api/v1/operators/{identity}
func (h *Handler) HandleOperator(w http.ResponseWriter, r *http.Request) {
	identity, err := interfaces.NewIdentityFromHex(r.PathValue("identity"))
	if err != nil {
		h.writeError(w, badRequest("invalid identity: %v", err))
		return
	}

	name, err := h.ledger.Lookup(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.OperatorResponse{Identity: identity, Name: name})
}

// queryArgs extracts the caller header and the service id path parameter.
func queryArgs(r *http.Request) (interfaces.Identity, interfaces.ServiceID, error) {
	callerHex := r.Header.Get(api.CallerHeader)
	if callerHex == "" {
		return interfaces.Identity{}, "", badRequest("missing %s header", api.CallerHeader)
	}
	caller, err := interfaces.NewIdentityFromHex(callerHex)
	if err != nil {
		return interfaces.Identity{}, "", badRequest("invalid caller: %v", err)
	}
	return caller, interfaces.ServiceID(r.PathValue("id")), nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("invalid %s: %q", name, raw)
	}
	return v, nil
}

// URL format: GET /api/v1/services/{id}/state
func (h *Handler) HandleServiceState(w http.ResponseWriter, r *http.Request) {
	caller, id, err := queryArgs(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	state, err := h.ledger.ServiceState(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.StateResponse{State: state})
}

// URL format: GET /api/v1/services/{id}/info?as_provider=true
func (h *Handler) HandleServiceInfo(w http.ResponseWriter, r *http.Request) {
	caller, id, err := queryArgs(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	asProvider, err := boolParam(r, "as_provider")
	if err != nil {
		h.writeError(w, err)
		return
	}

	info, err := h.ledger.ServiceInfo(r.Context(), caller, id, asProvider)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// URL format: GET /api/v1/services/{id}/endpoint?of_provider=true
func (h *Handler) HandleEndpoint(w http.ResponseWriter, r *http.Request) {
	caller, id, err := queryArgs(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ofProvider, err := boolParam(r, "of_provider")
	if err != nil {
		h.writeError(w, err)
		return
	}

	endpoint, err := h.ledger.Endpoint(r.Context(), caller, id, ofProvider)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, endpoint)
}

// URL format: GET /api/v1/services/{id}/bids
func (h *Handler) HandleBidCount(w http.ResponseWriter, r *http.Request) {
	caller, id, err := queryArgs(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	count, err := h.ledger.BidCount(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.BidCountResponse{Count: count})
}

// URL format: GET /api/v1/services/{id}/bids/{index}
func (h *Handler) HandleBid(w http.ResponseWriter, r *http.Request) {
	caller, id, err := queryArgs(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		h.writeError(w, badRequest("invalid bid index %q", r.PathValue("index")))
		return
	}

	bid, err := h.ledger.Bid(r.Context(), caller, id, index)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bid)
}

// URL format: GET /api/v1/services/{id}/winner/{candidate}
func (h *Handler) HandleIsWinner(w http.ResponseWriter, r *http.Request) {
	caller, id, err := queryArgs(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	candidate, err := interfaces.NewIdentityFromHex(r.PathValue("candidate"))
	if err != nil {
		h.writeError(w, badRequest("invalid candidate: %v", err))
		return
	}

	won, err := h.ledger.IsWinner(r.Context(), caller, id, candidate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.WinnerResponse{Winner: won})
}

// HandleEvents pages through the event log.
//
// URL format: GET /api/v1/events?after=<cursor>&limit=<n>
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	limit := maxEventsPage

	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.writeError(w, badRequest("invalid cursor %q", raw))
			return
		}
		after = v
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			h.writeError(w, badRequest("invalid limit %q", raw))
			return
		}
		limit = min(v, maxEventsPage)
	}

	events, err := h.ledger.Events(r.Context(), after, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []interfaces.Event{}
	}
	h.writeJSON(w, http.StatusOK, api.EventsResponse{Events: events})
}

// URL format: GET /api/v1/height
func (h *Handler) HandleHeight(w http.ResponseWriter, r *http.Request) {
	height, err := h.ledger.Height(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.HeightResponse{Height: height})
}

func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Message: "route not found"})
}
