package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/seagate85/AbstractBooking/internal/config"
	"github.com/seagate85/AbstractBooking/internal/deps"
	"github.com/seagate85/AbstractBooking/internal/errs"
	"github.com/seagate85/AbstractBooking/internal/middleware"
	"github.com/seagate85/AbstractBooking/internal/model"
	"github.com/seagate85/AbstractBooking/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

type Storage interface {
	CreateUser(ctx context.Context, login, passwordHash string, role model.Role) error
	GetUserByLogin(ctx context.Context, login string) (model.User, string, error)
	GetUserByID(ctx context.Context, id int) (model.User, error)

	GetAccount(ctx context.Context, userID int) (model.Account, error)
	CreditAccount(ctx context.Context, userID int, amount float64) error

	CreateBooking(ctx context.Context, customer model.User, req model.CreateBookingRequest) (int, error)
	ListBookings(ctx context.Context, viewer model.User, own bool) ([]model.BookingView, error)
	GetBooking(ctx context.Context, bookingID int, viewer model.User) (model.Booking, []model.Comment, error)
	OfferPerformer(ctx context.Context, bookingID int, actor model.User) error
	ApprovePerformer(ctx context.Context, bookingID int, actor model.User, chosenID int) error
	CompleteBooking(ctx context.Context, bookingID int, actor model.User) (model.Payout, error)
	DeleteBooking(ctx context.Context, bookingID int, actor model.User) error
	UpdateBooking(ctx context.Context, bookingID int, actor model.User, req model.UpdateBookingRequest) error
	AddComment(ctx context.Context, bookingID int, author model.User, text string) (model.Comment, error)
}

type Server struct {
	storage Storage
	config  *config.Config
	deps    *deps.Deps
}

func NewServer(storage Storage, config *config.Config, deps *deps.Deps) *Server {
	return &Server{
		storage: storage,
		config:  config,
		deps:    deps,
	}
}

func (srv *Server) buildRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(chiMiddleware.StripSlashes)
	router.Use(middleware.LogMiddleware(srv.deps.Logger))
	router.Use(middleware.DecompressMiddleware)
	router.Use(middleware.CompressMiddleware(srv.deps.Logger))

	router.Post("/api/user/register", srv.RegisterHandler)
	router.Post("/api/user/login", srv.LoginHandler)

	// авторизованные ручки
	router.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(srv.storage, srv.deps.TokenManager))

		r.Get("/api/user/balance", srv.GetBalanceHandler)
		r.Post("/api/user/balance/topup", srv.TopupHandler)

		r.Post("/api/bookings", srv.CreateBookingHandler)
		r.Get("/api/bookings", srv.ListBookingsHandler)
		r.Get("/api/bookings/own", srv.ListOwnBookingsHandler)
		r.Get("/api/bookings/{id}", srv.GetBookingHandler)
		r.Patch("/api/bookings/{id}", srv.UpdateBookingHandler)
		r.Delete("/api/bookings/{id}", srv.DeleteBookingHandler)
		r.Post("/api/bookings/{id}/offer", srv.OfferHandler)
		r.Post("/api/bookings/{id}/approve", srv.ApproveHandler)
		r.Post("/api/bookings/{id}/complete", srv.CompleteHandler)
		r.Post("/api/bookings/{id}/comments", srv.AddCommentHandler)
	})

	return router
}

func (srv *Server) Run(ctx context.Context) error {
	router := srv.buildRouter()

	server := &http.Server{
		Addr:    srv.config.RunAddress,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.deps.Logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// writeDomainError переводит ошибки движка заказов в HTTP-статусы.
// Недоступность и отсутствие заказа намеренно неразличимы (404).
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrBookingNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrInvalidStatus):
		http.Error(w, "invalid booking status", http.StatusConflict)
	case errors.Is(err, errs.ErrDuplicateCandidate):
		http.Error(w, "already applied", http.StatusConflict)
	case errors.Is(err, errs.ErrUnknownCandidate):
		http.Error(w, "unknown candidate", http.StatusUnprocessableEntity)
	case errors.Is(err, errs.ErrInsufficientFunds):
		http.Error(w, "insufficient funds", http.StatusPaymentRequired)
	case errors.Is(err, errs.ErrNotOwner), errors.Is(err, errs.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, errs.ErrNoProfile):
		http.Error(w, "account missing", http.StatusInternalServerError)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func userFromContext(r *http.Request) (model.User, bool) {
	user, ok := r.Context().Value(middleware.UserContextKey).(model.User)
	return user, ok
}

func bookingIDFromURL(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials

	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if creds.Login == "" || creds.Password == "" {
		http.Error(w, "login and password required", http.StatusBadRequest)
		return
	}
	if creds.Role != model.RoleCustomer && creds.Role != model.RolePerformer {
		http.Error(w, "role must be customer or performer", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "hash error", http.StatusInternalServerError)
		return
	}

	err = s.storage.CreateUser(r.Context(), creds.Login, string(hash), creds.Role)
	if err != nil {
		if errors.Is(err, errs.ErrLoginAlreadyExists) {
			http.Error(w, "login taken", http.StatusConflict)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	user, _, err := s.storage.GetUserByLogin(r.Context(), creds.Login)
	if err != nil {
		http.Error(w, "failed to fetch user", http.StatusInternalServerError)
		return
	}

	token, err := s.deps.TokenManager.GenerateToken(user.ID)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials

	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if creds.Login == "" || creds.Password == "" {
		http.Error(w, "login and password required", http.StatusBadRequest)
		return
	}

	user, hash, err := s.storage.GetUserByLogin(r.Context(), creds.Login)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.deps.TokenManager.GenerateToken(user.ID)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	account, err := s.storage.GetAccount(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(account); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func (s *Server) TopupHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.TopupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !utils.IsValidPrice(req.Sum) {
		http.Error(w, "invalid sum", http.StatusUnprocessableEntity)
		return
	}

	if err := s.storage.CreditAccount(r.Context(), user.ID, req.Sum); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if user.Role != model.RoleCustomer {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req model.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.Text == "" {
		http.Error(w, "title and text required", http.StatusBadRequest)
		return
	}
	if !utils.IsValidPrice(req.Price) {
		http.Error(w, "invalid price", http.StatusUnprocessableEntity)
		return
	}

	id, err := s.storage.CreateBooking(r.Context(), user, req)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]int{"id": id}); err != nil {
		s.deps.Logger.Errorf("encode create response: %v", err)
	}
}

func (s *Server) ListBookingsHandler(w http.ResponseWriter, r *http.Request) {
	s.listBookings(w, r, false)
}

func (s *Server) ListOwnBookingsHandler(w http.ResponseWriter, r *http.Request) {
	s.listBookings(w, r, true)
}

func (s *Server) listBookings(w http.ResponseWriter, r *http.Request, own bool) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	views, err := s.storage.ListBookings(r.Context(), user, own)
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	if len(views) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func (s *Server) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := bookingIDFromURL(r)
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	b, comments, err := s.storage.GetBooking(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := struct {
		model.Booking
		Comments []model.Comment `json:"comments,omitempty"`
	}{Booking: b, Comments: comments}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func (s *Server) OfferHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if user.Role != model.RolePerformer {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	id, err := bookingIDFromURL(r)
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	if err := s.storage.OfferPerformer(r.Context(), id, user); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if user.Role != model.RoleCustomer {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	id, err := bookingIDFromURL(r)
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	var req model.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.PerformerID == 0 {
		http.Error(w, "performer_id required", http.StatusBadRequest)
		return
	}

	if err := s.storage.ApprovePerformer(r.Context(), id, user, req.PerformerID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if user.Role != model.RoleCustomer {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	id, err := bookingIDFromURL(r)
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	payout, err := s.storage.CompleteBooking(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payout); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func (s *Server) DeleteBookingHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := bookingIDFromURL(r)
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	if err := s.storage.DeleteBooking(r.Context(), id, user); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) UpdateBookingHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := bookingIDFromURL(r)
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	var req model.UpdateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Title == nil && req.Text == nil {
		http.Error(w, "nothing to update", http.StatusBadRequest)
		return
	}

	if err := s.storage.UpdateBooking(r.Context(), id, user, req); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) AddCommentHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := bookingIDFromURL(r)
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	var req model.CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}

	comment, err := s.storage.AddComment(r.Context(), id, user, req.Text)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(comment); err != nil {
		s.deps.Logger.Errorf("encode comment response: %v", err)
	}
}
