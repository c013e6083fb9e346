package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"parimutuel-engine/internal/engine"
	"parimutuel-engine/internal/model"
)

// Store is the persistence the handlers use outside the engine.
type Store interface {
	CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ListEvents(ctx context.Context, marketID *uint64, limit int) ([]model.EventLog, error)
}

type Server struct {
	store  Store
	engine *engine.Engine
	wsh    http.HandlerFunc
	secret []byte
}

func NewServer(store Store, eng *engine.Engine, wsHandler http.HandlerFunc, secret string) *Server {
	return &Server{store: store, engine: eng, wsh: wsHandler, secret: []byte(secret)}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	// Health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	// Auth (public)
	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	// WebSocket
	if s.wsh != nil {
		r.Get("/ws", s.wsh)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/wallet", s.getWallet)
		r.Get("/api/stats", s.stats)

		// Assets
		r.Get("/api/assets", s.listAssets)
		r.Get("/api/assets/{asset}", s.getAsset)

		// Markets
		r.Get("/api/markets", s.listMarkets)
		r.Post("/api/markets", s.createMarket)
		r.Get("/api/markets/{id}", s.getMarket)
		r.Get("/api/markets/{id}/multiplier", s.getMultiplier)
		r.Post("/api/markets/{id}/stake", s.stake)
		r.Get("/api/markets/{id}/stake", s.getStake)
		r.Get("/api/markets/{id}/stakes", s.listStakes)
		r.Post("/api/markets/{id}/resolve", s.resolve)

		// Claims
		r.Post("/api/markets/{id}/claim", s.claim)
		r.Post("/api/markets/{id}/creator-reward", s.claimCreatorReward)
		r.Post("/api/claims/batch", s.batchClaim)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/api/admin/assets", s.registerAsset)
			r.Put("/api/admin/assets/{asset}", s.updateAsset)
			r.Put("/api/admin/config", s.updateConfig)
			r.Post("/api/admin/deposit", s.adminDeposit)
			r.Post("/api/admin/fees/{asset}/withdraw", s.withdrawFees)
			r.Get("/api/admin/payouts/failed", s.listFailedPayouts)
			r.Post("/api/admin/payouts/{id}/retry", s.retryPayout)
			r.Get("/api/admin/users", s.listUsers)
			r.Get("/api/admin/events", s.listEvents)
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		jsonErr(w, 400, "email and password (min 6 chars) required")
		return
	}

	existing, _ := s.store.GetUserByEmail(r.Context(), req.Email)
	if existing != nil {
		jsonErr(w, 409, "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonErr(w, 500, "hash failed")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, string(hash), model.RoleUser)
	if err != nil {
		jsonErr(w, 500, "create user failed: "+err.Error())
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user == nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) makeToken(userID string, role model.Role) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(72 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, 401, "missing token")
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			jsonErr(w, 401, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonErr(w, 401, "invalid claims")
			return
		}
		userID, _ := claims["sub"].(string)
		if userID == "" {
			jsonErr(w, 401, "invalid claims")
			return
		}
		// Role comes from the store, not the token.
		user, err := s.store.GetUser(r.Context(), userID)
		if err != nil {
			log.Printf("[api] auth lookup %s: %v", userID, err)
			jsonErr(w, 500, "user lookup failed")
			return
		}
		if user == nil {
			jsonErr(w, 401, "unknown user")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, user.ID)
		ctx = context.WithValue(ctx, ctxRole, string(user.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleAdmin) {
			jsonErr(w, 403, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Helpers ──────────────────────────────────────────

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(ctxUserID).(string)
	return uid
}

func marketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonErr(w, 400, "invalid market id")
		return 0, false
	}
	return id, true
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func json201(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// engineErr maps an engine error onto an HTTP status.
func engineErr(w http.ResponseWriter, err error) {
	switch {
	case engine.IsValidation(err):
		jsonErr(w, 400, err.Error())
	case engine.IsNotFound(err):
		jsonErr(w, 404, err.Error())
	case engine.IsConflict(err):
		jsonErr(w, 409, err.Error())
	case errors.Is(err, engine.ErrTransferFailed):
		jsonErr(w, 502, err.Error())
	case errors.Is(err, engine.ErrEngineStopped), errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		jsonErr(w, 503, err.Error())
	default:
		log.Printf("[api] internal error: %v", err)
		jsonErr(w, 500, err.Error())
	}
}
