// Package railsim is an in-memory stand-in for the wallet Orders v2 API used
// in local development and rail tests.
package railsim

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/rails/wallet"
	"github.com/rs/zerolog"
)

var simLogger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "railsim").Logger()

const (
	defaultAuthorizationTTL = 29 * 24 * time.Hour
	tokenLifetime           = 9 * time.Hour
)

type Config struct {
	ClientID         string
	ClientSecret     string
	WebhookID        string
	AuthorizationTTL time.Duration
	Clock            clock.Clock
}

type fault struct {
	method string
	prefix string
	status int
	issue  string
	left   int
}

type replay struct {
	status int
	body   []byte
}

type Server struct {
	cfg     Config
	storage *Storage

	mu      sync.Mutex
	faults  []*fault
	replays map[string]replay
}

func NewServer(cfg Config) *Server {
	if cfg.AuthorizationTTL <= 0 {
		cfg.AuthorizationTTL = defaultAuthorizationTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	return &Server{cfg: cfg, storage: NewStorage(), replays: make(map[string]replay)}
}

func (s *Server) Storage() *Storage {
	return s.storage
}

// Routes builds the router for the simulated API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Post("/v1/oauth2/token", s.token)
	r.Post("/sim/orders/{id}/approve", s.approve)
	r.Post("/sim/faults", s.addFault)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer, s.injectFaults, s.replayRequestID)
		r.Post("/v1/notifications/verify-webhook-signature", s.verifySignature)
		r.Post("/v2/checkout/orders", s.createOrder)
		r.Get("/v2/checkout/orders/{id}", s.getOrder)
		r.Post("/v2/checkout/orders/{id}/authorize", s.authorizeOrder)
		r.Get("/v2/payments/authorizations/{id}", s.getAuthorization)
		r.Post("/v2/payments/authorizations/{id}/capture", s.capture)
		r.Post("/v2/payments/authorizations/{id}/void", s.void)
		r.Get("/v2/payments/captures/{id}", s.getCapture)
		r.Post("/v2/payments/captures/{id}/refund", s.refund)
	})
	return r
}

// InjectFault makes the next times requests matching method and path prefix
// fail with status and issue.
func (s *Server) InjectFault(method, pathPrefix string, status int, issue string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{method: method, prefix: pathPrefix, status: status, issue: issue, left: times})
}

// Approve marks an order approved by the payer.
func (s *Server) Approve(orderID string) error {
	if err := s.storage.Approve(orderID); err != nil {
		return err
	}
	return nil
}

// Sign returns the transmission signature the simulator accepts.
func (s *Server) Sign(transmissionID string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookID))
	mac.Write([]byte(transmissionID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !s.storage.TokenValid(token, s.cfg.Clock.Now()) {
			writeError(w, &simError{status: http.StatusUnauthorized, issue: "INVALID_TOKEN", msg: "access token is invalid or expired"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var hit *fault
		for _, f := range s.faults {
			if f.left > 0 && f.method == r.Method && strings.HasPrefix(r.URL.Path, f.prefix) {
				f.left--
				hit = f
				break
			}
		}
		s.mu.Unlock()
		if hit != nil {
			simLogger.Info().Str("event", "fault_injected").Str("path", r.URL.Path).Int("status", hit.status).Msg("Injected fault")
			writeError(w, &simError{status: hit.status, issue: hit.issue, msg: "injected fault"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// replayRequestID returns the stored response for a repeated request id so a
// retried mutation is applied once.
func (s *Server) replayRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(wallet.RequestIDHeader)
		if requestID == "" || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Method + " " + r.URL.Path + " " + requestID

		s.mu.Lock()
		prev, ok := s.replays[key]
		s.mu.Unlock()
		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(prev.status)
			w.Write(prev.body)
			return
		}

		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		next.ServeHTTP(ww, r)
		if ww.Status() < 500 {
			s.mu.Lock()
			s.replays[key] = replay{status: ww.Status(), body: buf.Bytes()}
			s.mu.Unlock()
		}
	})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != s.cfg.ClientID || secret != s.cfg.ClientSecret {
		writeError(w, &simError{status: http.StatusUnauthorized, issue: "invalid_client", msg: "client authentication failed"})
		return
	}
	token := s.storage.IssueToken(s.cfg.Clock.Now().Add(tokenLifetime))
	writeJSON(w, http.StatusOK, wallet.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tokenLifetime / time.Second),
	})
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Approve(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addFault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
		Path   string `json:"path"`
		Status int    `json:"status"`
		Issue  string `json:"issue"`
		Times  int    `json:"times"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Times <= 0 {
		req.Times = 1
	}
	s.InjectFault(req.Method, req.Path, req.Status, req.Issue, req.Times)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifySignature(w http.ResponseWriter, r *http.Request) {
	var req wallet.VerifySignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &simError{status: http.StatusBadRequest, issue: "MALFORMED_REQUEST_JSON", msg: err.Error()})
		return
	}
	status := "FAILURE"
	if req.WebhookID == s.cfg.WebhookID && hmac.Equal([]byte(req.TransmissionSig), []byte(s.Sign(req.TransmissionID))) {
		status = "SUCCESS"
	}
	writeJSON(w, http.StatusOK, wallet.VerifySignatureResponse{VerificationStatus: status})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req wallet.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &simError{status: http.StatusBadRequest, issue: "MALFORMED_REQUEST_JSON", msg: err.Error()})
		return
	}
	order, err := s.storage.CreateOrder(req, "http://"+r.Host)
	if err != nil {
		writeError(w, err)
		return
	}
	simLogger.Info().Str("event", "order_created").Str("order_id", order.ID).Msg("Order created")
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.storage.GetOrder(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) authorizeOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.storage.AuthorizeOrder(chi.URLParam(r, "id"), s.cfg.Clock.Now().Add(s.cfg.AuthorizationTTL))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) getAuthorization(w http.ResponseWriter, r *http.Request) {
	auth, err := s.storage.GetAuthorization(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (s *Server) capture(w http.ResponseWriter, r *http.Request) {
	var req wallet.CaptureRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &simError{status: http.StatusBadRequest, issue: "MALFORMED_REQUEST_JSON", msg: err.Error()})
			return
		}
	}
	capture, err := s.storage.Capture(chi.URLParam(r, "id"), req, s.cfg.Clock.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	simLogger.Info().Str("event", "authorization_captured").Str("capture_id", capture.ID).Msg("Authorization captured")
	writeJSON(w, http.StatusCreated, capture)
}

func (s *Server) void(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Void(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getCapture(w http.ResponseWriter, r *http.Request) {
	capture, err := s.storage.GetCapture(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, capture)
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	var req wallet.RefundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &simError{status: http.StatusBadRequest, issue: "MALFORMED_REQUEST_JSON", msg: err.Error()})
			return
		}
	}
	refund, err := s.storage.Refund(chi.URLParam(r, "id"), req, "http://"+r.Host)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *simError) {
	name := "UNPROCESSABLE_ENTITY"
	switch err.status {
	case http.StatusBadRequest:
		name = "INVALID_REQUEST"
	case http.StatusUnauthorized:
		name = "AUTHENTICATION_FAILURE"
	case http.StatusNotFound:
		name = "RESOURCE_NOT_FOUND"
	case http.StatusServiceUnavailable, http.StatusInternalServerError:
		name = "INTERNAL_SERVICE_ERROR"
	}
	resp := wallet.ErrorResponse{Name: name, Message: err.msg, DebugID: "sim"}
	if err.issue != "" {
		resp.Details = []wallet.ErrorDetail{{Issue: err.issue, Description: err.msg}}
	}
	writeJSON(w, err.status, resp)
}
