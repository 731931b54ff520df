package httpadapter

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ecocert/internal/adapters/metrics"
	"ecocert/internal/domain"
)

// PrincipalHeader carries the caller identity. Authentication happens in
// front of this service.
const PrincipalHeader = "X-Principal"

type Records interface {
	Submit(ctx context.Context, owner domain.Principal, energy, efficiency domain.Handle) (domain.RecordID, error)
	AttestVerified(ctx context.Context, id domain.RecordID, caller domain.Principal) error
	GetRecord(ctx context.Context, id domain.RecordID) (domain.Record, error)
	GetRevealedScore(ctx context.Context, id domain.RecordID) (uint64, error)
	RotateAuthority(ctx context.Context, caller, next domain.Principal) error
}

type Disclosures interface {
	RequestDisclosure(ctx context.Context, id domain.RecordID, caller domain.Principal) (domain.DisclosureRequest, error)
	Status(ctx context.Context, id domain.RequestID) (domain.DisclosureRequest, error)
	OnDisclosureResolved(ctx context.Context, id domain.RequestID, plaintext uint64, signatures [][]byte) error
}

type Handles interface {
	Import(ctx context.Context, caller domain.Principal, ciphertext []byte) (domain.Handle, error)
	Encrypt(ctx context.Context, caller domain.Principal, plaintext uint64) (domain.Handle, error)
}

type Keys interface {
	PublicKey() ([]byte, error)
	PlaintextModulus() uint64
}

type Options struct {
	// AllowPlaintext lets clients post plaintext values to /v1/ciphertexts
	// and have the server encrypt them. Only for local development.
	AllowPlaintext bool
	Metrics        *metrics.Metrics
	Log            *zap.Logger
}

type Server struct {
	records     Records
	disclosures Disclosures
	handles     Handles
	keys        Keys
	opts        Options
	log         *zap.Logger
}

func New(records Records, disclosures Disclosures, handles Handles, keys Keys, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{records: records, disclosures: disclosures, handles: handles, keys: keys, opts: opts, log: log}
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.Route("/v1", func(api chi.Router) {
		api.Get("/keys/public", s.route("keys", s.getPublicKey))
		api.Post("/ciphertexts", s.route("ciphertexts", s.postCiphertext))
		api.Post("/records", s.route("records", s.postRecord))
		api.Get("/records/{id}", s.route("record", s.getRecord))
		api.Post("/records/{id}/verify", s.route("verify", s.postVerify))
		api.Post("/records/{id}/disclosures", s.route("disclosures", s.postDisclosure))
		api.Get("/records/{id}/score", s.route("score", s.getScore))
		api.Get("/disclosures/{requestId}", s.route("disclosure", s.getDisclosure))
		api.Post("/disclosures/{requestId}/callback", s.route("callback", s.postCallback))
		api.Put("/authority", s.route("authority", s.putAuthority))
	})
	return r
}

func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	if s.opts.Metrics == nil {
		return h
	}
	return s.opts.Metrics.WrapHandler(name, h).ServeHTTP
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func principal(r *http.Request) domain.Principal {
	return domain.Principal(r.Header.Get(PrincipalHeader))
}
