package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"clickstonks/internal/config"
	"clickstonks/internal/db"
	"clickstonks/internal/game"
	"clickstonks/internal/market"
)

type contextKey string

const playerContextKey contextKey = "player"

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	market *market.Service
	game   *game.Service
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, marketSvc *market.Service, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		market: marketSvc,
		game:   gameSvc,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/players", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.handleMe)
			r.Post("/me/name", s.handleSetName)
			r.Post("/me/click", s.handleClick)
			r.Post("/me/disconnect", s.handleDisconnect)

			r.Get("/stocks", s.handleStocksList)
			r.Get("/stocks/{id}", s.handleStockDetail)
			r.Post("/stocks/{id}/buy", s.handleTrade(market.Buy))
			r.Post("/stocks/{id}/sell", s.handleTrade(market.Sell))

			r.Post("/transactions", s.handleCreateTransaction)
			r.Get("/transactions", s.handleTransactions)

			r.Get("/upgrades", s.handleUpgradesList)
			r.Post("/upgrades/{id}/buy", s.handleBuyUpgrade)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/admin/stocks", s.handleCreateStock)
			r.Post("/admin/tick", s.handleTick)
		})
	})
}

// authMiddleware resolves the bearer token, which is the player id, to a
// registered player.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := uuid.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if _, err := s.game.Player(r.Context(), id); err != nil {
			if errors.Is(err, market.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unknown player")
				return
			}
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), playerContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusNotFound, "admin api disabled")
			return
		}
		got := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func playerFromContext(ctx context.Context) market.PlayerID {
	id, _ := ctx.Value(playerContextKey).(market.PlayerID)
	return id
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	p, err := s.game.Register(r.Context(), uuid.Nil, in.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"player_id": p.ID, "player": p})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Dashboard(r.Context(), playerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetName(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.SetName(r.Context(), playerFromContext(r.Context()), in.Username); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Click(r.Context(), playerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.game.Disconnect(r.Context(), playerFromContext(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStocksList(w http.ResponseWriter, r *http.Request) {
	out, err := s.market.ListStocks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []market.Stock{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": out})
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := stockIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.market.GetStock(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrade(typ market.TxType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := stockIDParam(w, r)
		if !ok {
			return
		}
		var in struct {
			Amount uint64 `json:"amount"`
		}
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		player := playerFromContext(r.Context())
		var (
			out market.OrderResult
			err error
		)
		if typ == market.Buy {
			out, err = s.market.BuyStock(r.Context(), player, id, in.Amount)
		} else {
			out, err = s.market.SellStock(r.Context(), player, id, in.Amount)
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in struct {
		StockID market.StockID `json:"stock_id"`
		Amount  uint64         `json:"amount"`
		Type    string         `json:"type"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typ, err := market.ParseTxType(in.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	player := playerFromContext(r.Context())
	id, err := s.market.QueueTransaction(r.Context(), player, in.StockID, in.Amount, typ, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"transaction_id": id})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	var status *market.TxStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := market.ParseTxStatus(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		status = &st
	}
	out, err := s.market.ListTransactions(r.Context(), playerFromContext(r.Context()), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []market.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleUpgradesList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"upgrades": game.Upgrades()})
}

func (s *Server) handleBuyUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upgrade id")
		return
	}
	out, err := s.game.BuyUpgrade(r.Context(), playerFromContext(r.Context()), market.UpgradeID(raw))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateStock(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		InitialPrice uint64 `json:"initial_price"`
		TotalShares  uint64 `json:"total_shares"`
		Volatility   uint64 `json:"volatility"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.market.CreateStock(r.Context(), market.CreateStockInput{
		Name:         in.Name,
		Description:  in.Description,
		InitialPrice: in.InitialPrice,
		TotalShares:  in.TotalShares,
		Volatility:   in.Volatility,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"stock_id": id})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if err := s.market.OnTick(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func stockIDParam(w http.ResponseWriter, r *http.Request) (market.StockID, bool) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stock id")
		return 0, false
	}
	return market.StockID(raw), true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrInsufficientFunds), errors.Is(err, market.ErrInsufficientShares):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrOverflow):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, market.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, game.ErrClickCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, game.ErrUpgradeOwned), errors.Is(err, market.ErrTickInProgress), errors.Is(err, db.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
