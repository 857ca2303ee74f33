package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "synthvault/native/common"
	"synthvault/native/vault"
	"synthvault/observability"
	"synthvault/services/vaultd/journal"
)

// Engine is the vault surface exposed over HTTP. *vault.Engine satisfies it.
type Engine interface {
	Deposit(ctx context.Context, user, asset common.Address, amount *uint256.Int) error
	Withdraw(ctx context.Context, user, asset common.Address, amount *uint256.Int) error
	Mint(ctx context.Context, user, asset common.Address, amount *uint256.Int) error
	Burn(ctx context.Context, user, asset common.Address, amount *uint256.Int) error
	DepositAndMint(ctx context.Context, user, asset common.Address, collateral, amount *uint256.Int) error
	AutoReward(ctx context.Context, user, asset common.Address) (*uint256.Int, error)
	Liquidate(ctx context.Context, liquidator, target, asset common.Address, repay *uint256.Int) (*vault.LiquidationResult, error)

	AddCollateral(caller common.Address, params vault.CollateralParams) error
	SetCollateralEnabled(caller, asset common.Address, enabled bool) error
	UpdatePrice(caller, asset common.Address, price *uint256.Int) error
	Pause(caller common.Address) error
	Unpause(caller common.Address) error
	ResetUserLimits(caller, user common.Address) error
	ResetGlobalLimits(caller common.Address) error
	UpdateAutoRewardConfig(caller common.Address, cfg vault.AutoRewardConfig) error
	SetAutoMintEnabled(caller common.Address, enabled bool) error
	UpdateLimits(caller common.Address, limits vault.Limits) error

	Position(user, asset common.Address) (*vault.PositionView, error)
	UserMintStatus(user common.Address) (*vault.UserMintStatusView, error)
	GlobalStatus() (*vault.GlobalStatusView, error)
	CollateralConfig(asset common.Address) (*vault.CollateralConfig, error)
	Collaterals() ([]*vault.CollateralConfig, error)
	LiquidationCandidates(asset common.Address) ([]vault.Candidate, error)
	TotalValueLocked() (*uint256.Int, error)
}

// EventLog serves historical events.
type EventLog interface {
	Recent(ctx context.Context, f journal.Filter) ([]vault.Event, error)
}

// Faucet credits collateral balances on development ledgers.
type Faucet interface {
	Credit(asset, holder common.Address, amount *uint256.Int) error
}

// Config wires the server's collaborators. Events, Hub, Faucet and Halt are
// optional.
type Config struct {
	Engine    Engine
	Access    vault.AccessGuard
	Events    EventLog
	Hub       *Hub
	Faucet    Faucet
	Halt      *nativecommon.ModuleSwitch
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
	Timeout   time.Duration
}

// Server exposes the vault engine over JSON/HTTP.
type Server struct {
	engine  Engine
	access  vault.AccessGuard
	events  EventLog
	hub     *Hub
	faucet  Faucet
	halt    *nativecommon.ModuleSwitch
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	timeout time.Duration
}

func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if cfg.Auth.HMACSecret == "" {
		return nil, errors.New("server: auth secret required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	access := cfg.Access
	if access == nil {
		access = vault.AccessFunc(func(common.Address, vault.Role) bool { return false })
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		engine:  cfg.Engine,
		access:  access,
		events:  cfg.Events,
		hub:     cfg.Hub,
		faucet:  cfg.Faucet,
		halt:    cfg.Halt,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger.With("component", "http"),
		timeout: timeout,
	}, nil
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.auth.Middleware)
		v1.Use(s.limiter.Middleware)

		v1.Get("/positions/{user}/{asset}", s.getPosition)
		v1.Get("/users/{user}/mint-status", s.getMintStatus)
		v1.Get("/status", s.getStatus)
		v1.Get("/collateral", s.listCollateral)
		v1.Get("/collateral/{asset}", s.getCollateral)
		v1.Get("/liquidations/{asset}", s.listCandidates)
		v1.Get("/events", s.listEvents)
		if s.hub != nil {
			v1.Get("/events/stream", s.hub.serveStream)
		}

		v1.Route("/vault", func(vr chi.Router) {
			vr.Post("/deposit", s.deposit)
			vr.Post("/withdraw", s.withdraw)
			vr.Post("/mint", s.mint)
			vr.Post("/burn", s.burn)
			vr.Post("/deposit-and-mint", s.depositAndMint)
			vr.Post("/auto-reward", s.autoReward)
			vr.Post("/liquidate", s.liquidate)
		})

		v1.Route("/admin", func(ar chi.Router) {
			ar.Post("/collateral", s.addCollateral)
			ar.Post("/collateral/enabled", s.setCollateralEnabled)
			ar.Post("/price", s.updatePrice)
			ar.Post("/pause", s.pause)
			ar.Post("/unpause", s.unpause)
			ar.Post("/limits/reset-user", s.resetUserLimits)
			ar.Post("/limits/reset-global", s.resetGlobalLimits)
			ar.Post("/reward-config", s.updateRewardConfig)
			ar.Post("/auto-mint", s.setAutoMint)
			ar.Post("/limits", s.updateLimits)
			if s.faucet != nil {
				ar.Post("/credit", s.credit)
			}
			if s.halt != nil {
				ar.Post("/halt", s.haltVault)
				ar.Post("/resume", s.resumeVault)
			}
		})
	})

	return otelhttp.NewHandler(r, "vaultd")
}

type requestIDKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack keeps websocket upgrades working through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		observability.HTTP().Observe(route, rec.status, time.Since(start))
		if rec.status >= http.StatusInternalServerError {
			id, _ := r.Context().Value(requestIDKey{}).(string)
			s.logger.Error("request failed", "route", route, "status", rec.status, "request_id", id)
		}
	})
}
