// Package api serves the order books, fee books and event history over REST,
// accepts signed requests for the sequencer and streams committed events
// over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/levelbook/pkg/app/core/fee"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/app/core/viewer"
	"github.com/uhyunpark/levelbook/pkg/app/nftx"
	"github.com/uhyunpark/levelbook/pkg/storage"
	"github.com/uhyunpark/levelbook/pkg/util"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

const (
	maxBodyBytes      = 64 << 10
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// FeeSource reports the fee configuration of a collection.
type FeeSource interface {
	FeeBook(target common.Address) fee.Book
}

type Config struct {
	App    *nftx.App
	Viewer *viewer.Viewer
	Fees   FeeSource
	Events *storage.EventLog // optional
	// Metrics is mounted at /metrics when set.
	Metrics     http.Handler
	CORSOrigins []string
	Logger      *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *nftx.App
	viewer  *viewer.Viewer
	fees    FeeSource
	events  *storage.EventLog
	metrics http.Handler
	origins []string
	log     *zap.SugaredLogger

	router *mux.Router
	hub    *Hub
}

func NewServer(cfg Config) *Server {
	log := util.OrNop(cfg.Logger)
	s := &Server{
		app:     cfg.App,
		viewer:  cfg.Viewer,
		fees:    cfg.Fees,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		origins: cfg.CORSOrigins,
		log:     log,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
	}
	s.setupRoutes()
	return s
}

// Hub is the event sink feeding WebSocket subscribers.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Books
	api.HandleFunc("/books/{payment}/{target}", s.handleGetBooks).Methods("GET")
	api.HandleFunc("/books/{payment}/{target}/{tokenId}", s.handleGetTokenBooks).Methods("GET")
	api.HandleFunc("/queues/{payment}/{target}/{tokenId}/{price}/{side}", s.handleGetQueue).Methods("GET")

	api.HandleFunc("/fees/{target}", s.handleGetFees).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	// Signed requests
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleSubmitCancel).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Infow("api_stopped")
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetBooks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payment, target, ok := pathAddresses(w, vars)
	if !ok {
		return
	}
	viewpoint, ok := viewpointParam(w, r)
	if !ok {
		return
	}
	books, err := s.viewer.OrderBooks(payment, target, viewpoint)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, BooksResponse{
		Payment:    payment.Hex(),
		Target:     target.Hex(),
		Viewpoint:  viewpoint.Hex(),
		OrderBooks: books,
	})
}

func (s *Server) handleGetTokenBooks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payment, target, ok := pathAddresses(w, vars)
	if !ok {
		return
	}
	tokenID, ok := pathInt(w, vars, "tokenId")
	if !ok {
		return
	}
	viewpoint, ok := viewpointParam(w, r)
	if !ok {
		return
	}
	books, err := s.viewer.OrderBooksByTokenID(payment, target, tokenID, viewpoint)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, BooksResponse{
		Payment:    payment.Hex(),
		Target:     target.Hex(),
		Viewpoint:  viewpoint.Hex(),
		OrderBooks: books,
	})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payment, target, ok := pathAddresses(w, vars)
	if !ok {
		return
	}
	tokenID, ok := pathInt(w, vars, "tokenId")
	if !ok {
		return
	}
	price, ok := pathInt(w, vars, "price")
	if !ok {
		return
	}
	var side ledger.Side
	switch strings.ToLower(vars["side"]) {
	case "sell":
		side = ledger.Sell
	case "buy":
		side = ledger.Buy
	default:
		respondError(w, http.StatusBadRequest, "invalid side", "expected sell or buy")
		return
	}
	q, err := s.viewer.Queue(ledger.NewQueueKey(payment, target, tokenID, price, side))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, QueueResponse{Side: side.String(), QueueView: q})
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["target"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return
	}
	target := common.HexToAddress(raw)
	respondJSON(w, FeeBookResponse{Target: target.Hex(), Book: s.fees.FeeBook(target)})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotFound, "event log disabled", "")
		return
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := s.events.Recent(limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if events == nil {
		events = []json.RawMessage{}
	}
	respondJSON(w, EventsResponse{Seq: s.events.Seq(), Events: events})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.app.Status())
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "order")
}

func (s *Server) handleSubmitCancel(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "cancel")
}

// submit checks the envelope type and queues the signed request. The
// request is applied with the next batch.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, wantType string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON transaction", err.Error())
		return
	}
	if envelope.Type != wantType {
		respondError(w, http.StatusBadRequest, "invalid transaction type", "expected type="+wantType)
		return
	}
	id, err := s.app.Submit(body)
	if err != nil {
		s.log.Debugw("submit_rejected", "type", wantType, "err", err)
		s.respondErr(w, err)
		return
	}
	s.log.Infow("tx_submitted", "type", wantType, "id", id, "bytes", len(body))
	respondJSON(w, SubmitResponse{Status: "submitted", ID: id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func pathAddresses(w http.ResponseWriter, vars map[string]string) (payment, target common.Address, ok bool) {
	for _, name := range []string{"payment", "target"} {
		if !common.IsHexAddress(vars[name]) {
			respondError(w, http.StatusBadRequest, "invalid address", name+"="+vars[name])
			return payment, target, false
		}
	}
	return common.HexToAddress(vars["payment"]), common.HexToAddress(vars["target"]), true
}

// pathInt parses a decimal or 0x-prefixed 256-bit path variable.
func pathInt(w http.ResponseWriter, vars map[string]string, name string) (*uint256.Int, bool) {
	v, err := parseInt(vars[name])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name, err.Error())
		return nil, false
	}
	return v, true
}

func parseInt(s string) (*uint256.Int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}

// viewpointParam defaults to the zero address, the optimistic view.
func viewpointParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	v := r.URL.Query().Get("viewpoint")
	if v == "" {
		return common.Address{}, true
	}
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid viewpoint", v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	var e *xerr.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case xerr.PermissionDenied:
		return http.StatusForbidden
	case xerr.InvalidRegistration:
		return http.StatusConflict
	case xerr.InvalidOrder:
		return http.StatusUnprocessableEntity
	case xerr.InvalidRequest:
		return http.StatusBadRequest
	case xerr.Paused:
		return http.StatusLocked
	case xerr.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("request_failed", "err", err)
	}
	respondError(w, status, xerr.KindOf(err).String(), err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
