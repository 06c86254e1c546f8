// Package api exposes the explorer over a RESTful HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-explorer/internal/aggregate"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/registry"
	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/types"
)

// Explorer is the query surface served by the API
type Explorer interface {
	GetBalance(ctx context.Context, net types.Network, address, currency string) (model.Balance, error)
	GetTokenBalance(ctx context.Context, net types.Network, address, contract string) (model.Balance, error)
	GetTxDetails(ctx context.Context, net types.Network, hash string) ([]model.TransferTx, error)
	GetAddressTxs(ctx context.Context, net types.Network, address, direction string) ([]model.TransferTx, error)
	GetTokenTxs(ctx context.Context, net types.Network, address, contract, direction string) ([]model.TransferTx, error)
	GetBlockTxs(ctx context.Context, net types.Network, height int64) ([]model.TransferTx, error)
	GetBlocksTxs(ctx context.Context, net types.Network, from, to int64) ([]model.BlockTxs, error)
	GetBlockHead(ctx context.Context, net types.Network) (model.BlockHead, error)
	Networks() []aggregate.NetworkInfo
}

// DefaultsLister lists the recorded default providers
type DefaultsLister interface {
	List(ctx context.Context) ([]store.Record, error)
}

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body     interface{}   `json:"body,omitempty"`
	Error    string        `json:"error,omitempty"`
	Failures []FailureView `json:"failures,omitempty"`
}

// FailureView is one provider diagnostic of an exhausted call
type FailureView struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Error    string `json:"error,omitempty"`
}

// Server serves the HTTP API
type Server struct {
	explorer Explorer
	defaults DefaultsLister
	metrics  http.Handler
	timeout  time.Duration
	log      *logrus.Logger
}

// Option configures a Server
type Option func(*Server)

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTimeout bounds every request
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates the API server. defaults may be nil.
func New(ex Explorer, defaults DefaultsLister, opts ...Option) *Server {
	s := &Server{
		explorer: ex,
		defaults: defaults,
		timeout:  30 * time.Second,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods("GET")
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/networks", s.networksHandler).Methods("GET")                          // configured networks
	v1.HandleFunc("/defaults", s.defaultsHandler).Methods("GET")                          // current default providers
	v1.HandleFunc("/{network}/balance/{address}", s.balanceHandler).Methods("GET")        // ?currency=
	v1.HandleFunc("/{network}/tx/{hash}", s.txHandler).Methods("GET")                     // transaction details
	v1.HandleFunc("/{network}/address/{address}/txs", s.addressTxsHandler).Methods("GET") // ?direction=
	v1.HandleFunc("/{network}/block/{height:[0-9]+}", s.blockHandler).Methods("GET")      // block transfers
	v1.HandleFunc("/{network}/blocks", s.blocksHandler).Methods("GET")                    // ?from=&to=
	v1.HandleFunc("/{network}/head", s.headHandler).Methods("GET")                        // chain tip
	v1.HandleFunc("/{network}/token/{contract}/balance/{address}", s.tokenBalanceHandler).Methods("GET")
	v1.HandleFunc("/{network}/token/{contract}/txs/{address}", s.tokenTxsHandler).Methods("GET") // ?direction=
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.log.WithFields(logrus.Fields{
			"remote":   r.RemoteAddr,
			"uri":      r.RequestURI,
			"duration": time.Since(start),
		}).Debug("httpreq")
	})
}

func (s *Server) healthHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, http.StatusOK, Response{Body: map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
}

func (s *Server) networksHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, http.StatusOK, Response{Body: s.explorer.Networks()})
}

func (s *Server) defaultsHandler(rw http.ResponseWriter, r *http.Request) {
	if s.defaults == nil {
		reply(rw, http.StatusOK, Response{Body: []store.Record{}})
		return
	}
	recs, err := s.defaults.List(r.Context())
	if err != nil {
		s.fail(rw, r, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	reply(rw, http.StatusOK, Response{Body: recs})
}

func (s *Server) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	vars := mux.Vars(r)
	bal, err := s.explorer.GetBalance(ctx, network(vars), vars["address"], r.URL.Query().Get("currency"))
	s.respond(rw, r, bal, err)
}

func (s *Server) tokenBalanceHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	vars := mux.Vars(r)
	bal, err := s.explorer.GetTokenBalance(ctx, network(vars), vars["address"], vars["contract"])
	s.respond(rw, r, bal, err)
}

func (s *Server) txHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	vars := mux.Vars(r)
	txs, err := s.explorer.GetTxDetails(ctx, network(vars), vars["hash"])
	s.respond(rw, r, txs, err)
}

func (s *Server) addressTxsHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	vars := mux.Vars(r)
	txs, err := s.explorer.GetAddressTxs(ctx, network(vars), vars["address"], r.URL.Query().Get("direction"))
	s.respond(rw, r, txs, err)
}

func (s *Server) tokenTxsHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	vars := mux.Vars(r)
	txs, err := s.explorer.GetTokenTxs(ctx, network(vars), vars["address"], vars["contract"], r.URL.Query().Get("direction"))
	s.respond(rw, r, txs, err)
}

func (s *Server) blockHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	vars := mux.Vars(r)
	height, err := strconv.ParseInt(vars["height"], 10, 64)
	if err != nil {
		s.fail(rw, r, err)
		return
	}
	txs, err := s.explorer.GetBlockTxs(ctx, network(vars), height)
	s.respond(rw, r, txs, err)
}

func (s *Server) blocksHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	vars := mux.Vars(r)
	q := r.URL.Query()
	from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
	to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
	if errFrom != nil || errTo != nil {
		s.fail(rw, r, errBadRange)
		return
	}
	blocks, err := s.explorer.GetBlocksTxs(ctx, network(vars), from, to)
	s.respond(rw, r, blocks, err)
}

func (s *Server) headHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	head, err := s.explorer.GetBlockHead(ctx, network(mux.Vars(r)))
	s.respond(rw, r, head, err)
}

var errBadRange = errors.New("from and to must be block heights")

func (s *Server) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func network(vars map[string]string) types.Network {
	return types.ParseNetwork(vars["network"])
}

func (s *Server) respond(rw http.ResponseWriter, r *http.Request, body interface{}, err error) {
	if err != nil {
		s.fail(rw, r, err)
		return
	}
	reply(rw, http.StatusOK, Response{Body: body})
}

// fail maps an explorer error onto a status code
func (s *Server) fail(rw http.ResponseWriter, r *http.Request, err error) {
	res := Response{Error: err.Error()}
	var status int
	var exhausted *aggregate.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		status = http.StatusBadGateway
		for _, f := range exhausted.Failures {
			fv := FailureView{Provider: f.Provider, Kind: string(f.Kind)}
			if f.Err != nil {
				fv.Error = f.Err.Error()
			}
			res.Failures = append(res.Failures, fv)
		}
	case errors.Is(err, aggregate.ErrInvalidQuery), errors.Is(err, errBadRange), errors.Is(err, strconv.ErrSyntax), errors.Is(err, strconv.ErrRange):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrUnsupportedOperation):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}
	s.log.WithFields(logrus.Fields{"uri": r.RequestURI, "status": status}).Warnf("Request failed: %v", err)
	reply(rw, status, res)
}

func reply(rw http.ResponseWriter, status int, res Response) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(res)
}
