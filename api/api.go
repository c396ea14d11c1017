package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/mezonai/headerd/blockcache"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/exception"
	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/monitoring"
	"github.com/mezonai/headerd/p2p"
	"github.com/mezonai/headerd/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PeerReporter is the view of the network session the API exposes.
type PeerReporter interface {
	SessionID() string
	ConnectedPeers() []p2p.PeerInfo
}

type StatusResponse struct {
	Network        string         `json:"network"`
	Height         uint32         `json:"height"`
	TipHash        string         `json:"tip_hash"`
	GenesisHash    string         `json:"genesis_hash"`
	ChainWork      string         `json:"chain_work"`
	SessionID      string         `json:"session_id,omitempty"`
	ConnectedPeers []p2p.PeerInfo `json:"connected_peers"`
}

type HeaderResponse struct {
	Height     uint32 `json:"height"`
	Hash       string `json:"hash"`
	PrevBlock  string `json:"prev_block"`
	MerkleRoot string `json:"merkle_root"`
	Version    int32  `json:"version"`
	Timestamp  int64  `json:"timestamp"`
	Bits       string `json:"bits"`
	Nonce      uint32 `json:"nonce"`
}

// APIServer serves read-only chain status over HTTP.
type APIServer struct {
	ListenAddr string

	params  *config.Params
	cache   *blockcache.SharedCache
	peers   PeerReporter
	log     *logx.Logger
	router  *mux.Router
	server  *http.Server
	limiter *ratelimit.RateLimiter
}

// ClientLimit is the per-IP request budget of the API.
func ClientLimit() *ratelimit.RateLimiterConfig {
	return &ratelimit.RateLimiterConfig{
		MaxRequests:     100,
		WindowSize:      time.Second,
		CleanupInterval: time.Minute,
	}
}

// NewAPIServer builds the server. peers may be nil.
func NewAPIServer(addr string, params *config.Params, cache *blockcache.SharedCache, peers PeerReporter, log *logx.Logger) *APIServer {
	if log == nil {
		log = logx.Default()
	}
	s := &APIServer{
		ListenAddr: addr,
		params:     params,
		cache:      cache,
		peers:      peers,
		log:        log,
		router:     mux.NewRouter(),
		limiter:    ratelimit.NewRateLimiter(ClientLimit()),
	}
	s.setupRoutes()
	return s
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/status", s.getStatus).Methods("GET")
	s.router.HandleFunc("/headers/hash/{hash}", s.getHeaderByHash).Methods("GET")
	s.router.HandleFunc("/headers/{height:[0-9]+}", s.getHeaderByHeight).Methods("GET")
	s.router.Handle("/metrics", monitoring.Handler()).Methods("GET")
	s.router.Use(s.rateLimit)
}

func (s *APIServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Router exposes the routes for tests and embedding.
func (s *APIServer) Router() *mux.Router {
	return s.router
}

// Start listens on ListenAddr and serves in the background.
func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return err
	}
	s.ListenAddr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("API", "API listen on", s.ListenAddr)
	exception.SafeGo("api server", func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("API", "Server stopped:", err)
		}
	})
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *APIServer) getStatus(w http.ResponseWriter, r *http.Request) {
	tip, _ := s.cache.Tip()
	resp := StatusResponse{
		Network:        string(s.params.Network),
		Height:         s.cache.Height(),
		TipHash:        tip.String(),
		GenesisHash:    s.cache.Genesis().String(),
		ChainWork:      s.cache.ChainWork().Dec(),
		ConnectedPeers: []p2p.PeerInfo{},
	}
	if s.peers != nil {
		resp.SessionID = s.peers.SessionID()
		resp.ConnectedPeers = s.peers.ConnectedPeers()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) getHeaderByHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid height", http.StatusBadRequest)
		return
	}
	h, err := s.cache.HeaderAt(uint32(height))
	if err != nil {
		http.Error(w, "Header not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, toHeaderResponse(uint32(height), &h))
}

func (s *APIServer) getHeaderByHash(w http.ResponseWriter, r *http.Request) {
	hash, err := chainhash.NewHashFromStr(mux.Vars(r)["hash"])
	if err != nil {
		http.Error(w, "Invalid hash", http.StatusBadRequest)
		return
	}
	height, ok := s.cache.Lookup(*hash)
	if !ok {
		http.Error(w, "Header not found", http.StatusNotFound)
		return
	}
	h, err := s.cache.HeaderAt(height)
	if err != nil {
		http.Error(w, "Header not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, toHeaderResponse(height, &h))
}

func toHeaderResponse(height uint32, h *wire.BlockHeader) HeaderResponse {
	return HeaderResponse{
		Height:     height,
		Hash:       h.BlockHash().String(),
		PrevBlock:  h.PrevBlock.String(),
		MerkleRoot: h.MerkleRoot.String(),
		Version:    h.Version,
		Timestamp:  h.Timestamp.Unix(),
		Bits:       strconv.FormatUint(uint64(h.Bits), 16),
		Nonce:      h.Nonce,
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("API", "Failed to encode response:", err)
	}
}
