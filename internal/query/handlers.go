package query

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"PoolLedger/internal/observability"
)

// Handler exposes the query service over HTTP/JSON.
type Handler struct {
	svc     *Service
	metrics *observability.Metrics
}

func NewHandler(svc *Service, metrics *observability.Metrics) *Handler {
	return &Handler{svc: svc, metrics: metrics}
}

// Register mounts the query routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/pools/{pool}", h.instrument("pool", h.handlePool))
	mux.HandleFunc("GET /v1/pools/{pool}/tokens/{token}", h.instrument("pool_token", h.handlePoolToken))
	mux.HandleFunc("GET /v1/pools/{pool}/tokens/{token}/balances/{user}", h.instrument("balance", h.handleBalance))
	mux.HandleFunc("GET /v1/pools/{pool}/quote", h.instrument("quote", h.handleQuote))
	mux.HandleFunc("GET /v1/pools/{pool}/tokens/{token}/reconcile", h.instrument("reconcile", h.handleReconcile))
	mux.HandleFunc("GET /v1/queue", h.instrument("queue", h.handleQueue))
}

func (h *Handler) instrument(endpoint string, fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
		}
		err := fn(w, r)
		if h.metrics != nil {
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if err != nil {
				h.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
			}
		}
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
		}
	}
}

func (h *Handler) handlePool(w http.ResponseWriter, r *http.Request) error {
	poolID, err := pathPool(r)
	if err != nil {
		return err
	}
	resp, err := h.svc.Pool(poolID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *Handler) handlePoolToken(w http.ResponseWriter, r *http.Request) error {
	poolID, err := pathPool(r)
	if err != nil {
		return err
	}
	token, err := pathAddress(r, "token")
	if err != nil {
		return err
	}
	resp, err := h.svc.PoolToken(poolID, token)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) error {
	poolID, err := pathPool(r)
	if err != nil {
		return err
	}
	token, err := pathAddress(r, "token")
	if err != nil {
		return err
	}
	user, err := pathAddress(r, "user")
	if err != nil {
		return err
	}
	resp, err := h.svc.Balance(poolID, token, user)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) error {
	poolID, err := pathPool(r)
	if err != nil {
		return err
	}
	token0, err := queryAddress(r, "token0")
	if err != nil {
		return err
	}
	token1, err := queryAddress(r, "token1")
	if err != nil {
		return err
	}
	amount0, ok := new(big.Int).SetString(r.URL.Query().Get("amount0"), 10)
	if !ok || amount0.Sign() <= 0 {
		return errors.New("amount0 must be a positive integer in native units")
	}
	resp, err := h.svc.Quote(poolID, token0, token1, amount0)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) error {
	poolID, err := pathPool(r)
	if err != nil {
		return err
	}
	token, err := pathAddress(r, "token")
	if err != nil {
		return err
	}
	resp, err := h.svc.Reconcile(poolID, token)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, h.svc.Queue())
	return nil
}

// ---- helpers ----

func pathPool(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("pool"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("pool must be a positive integer")
	}
	return id, nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(r.PathValue(name), name)
}

func queryAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(r.URL.Query().Get(name), name)
}

func parseAddress(raw, name string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New(name + " must be a hex address")
	}
	return common.HexToAddress(raw), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
