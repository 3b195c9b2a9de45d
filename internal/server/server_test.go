package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"
	"github.com/seagate85/AbstractBooking/internal/auth"
	"github.com/seagate85/AbstractBooking/internal/config"
	"github.com/seagate85/AbstractBooking/internal/deps"
	"github.com/seagate85/AbstractBooking/internal/errs"
	"github.com/seagate85/AbstractBooking/internal/middleware"
	"github.com/seagate85/AbstractBooking/internal/mocks"
	"github.com/seagate85/AbstractBooking/internal/model"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func setup(t *testing.T) (*Server, *mocks.MockStorage) {
	t.Helper()

	ctrl := gomock.NewController(t)
	mockStorage := mocks.NewMockStorage(ctrl)

	logger := zaptest.NewLogger(t)
	cfg := &config.Config{CommissionRate: 0.1}
	deps := &deps.Deps{
		TokenManager: auth.NewTokenManager("testsecret"),
		Logger:       logger.Sugar(),
	}

	srv := NewServer(mockStorage, cfg, deps)

	return srv, mockStorage
}

// newBookingRequest собирает запрос с пользователем в контексте и
// параметром {id} в роут-контексте chi.
func newBookingRequest(method, path string, user model.User, bookingID, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))

	ctx := context.WithValue(req.Context(), middleware.UserContextKey, user)
	if bookingID != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", bookingID)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}

	return req.WithContext(ctx)
}

func TestRegisterHandler(t *testing.T) {
	srv, mock := setup(t)

	mock.EXPECT().
		CreateUser(gomock.Any(), "user", gomock.Any(), model.RoleCustomer).
		Return(nil)

	mock.EXPECT().
		GetUserByLogin(gomock.Any(), "user").
		Return(model.User{ID: 1, Login: "user", Role: model.RoleCustomer}, "", nil)

	payload := `{"login":"user","password":"pass","role":"customer"}`
	req := httptest.NewRequest("POST", "/api/user/register", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.RegisterHandler(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	authHeader := resp.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		t.Errorf("missing token")
	}
}

func TestRegisterHandlerBadRole(t *testing.T) {
	srv, _ := setup(t)

	payload := `{"login":"user","password":"pass","role":"admin"}`
	req := httptest.NewRequest("POST", "/api/user/register", strings.NewReader(payload))
	w := httptest.NewRecorder()

	srv.RegisterHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLoginHandler(t *testing.T) {
	srv, mock := setup(t)

	pw, _ := bcrypt.GenerateFromPassword([]byte("pass"), bcrypt.DefaultCost)
	mock.EXPECT().
		GetUserByLogin(gomock.Any(), "user").
		Return(model.User{ID: 1, Login: "user", Role: model.RoleCustomer}, string(pw), nil)

	payload := `{"login":"user","password":"pass"}`
	req := httptest.NewRequest("POST", "/api/user/login", strings.NewReader(payload))
	w := httptest.NewRecorder()

	srv.LoginHandler(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateBookingHandler(t *testing.T) {
	srv, mock := setup(t)
	customer := model.User{ID: 1, Role: model.RoleCustomer}

	mock.EXPECT().
		CreateBooking(gomock.Any(), customer, model.CreateBookingRequest{
			Title: "wash windows", Text: "both sides", Price: 12.00,
		}).
		Return(7, nil)

	body := `{"title":"wash windows","text":"both sides","price":12}`
	req := newBookingRequest("POST", "/api/bookings", customer, "", body)
	w := httptest.NewRecorder()

	srv.CreateBookingHandler(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != 7 {
		t.Errorf("expected id 7, got %d", resp["id"])
	}
}

func TestCreateBookingHandlerPerformerForbidden(t *testing.T) {
	srv, _ := setup(t)
	performer := model.User{ID: 2, Role: model.RolePerformer}

	body := `{"title":"t","text":"x","price":12}`
	req := newBookingRequest("POST", "/api/bookings", performer, "", body)
	w := httptest.NewRecorder()

	srv.CreateBookingHandler(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestListBookingsHandler(t *testing.T) {
	srv, mock := setup(t)
	performer := model.User{ID: 2, Role: model.RolePerformer}

	mock.EXPECT().
		ListBookings(gomock.Any(), performer, false).
		Return([]model.BookingView{
			{
				Booking: model.Booking{ID: 1, Title: "b", Price: 12.00, CustomerID: 1, Status: model.Pending},
				Action:  model.CanTake,
			},
		}, nil)

	req := newBookingRequest("GET", "/api/bookings", performer, "", "")
	w := httptest.NewRecorder()

	srv.ListBookingsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var views []model.BookingView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(views) != 1 || views[0].Action != model.CanTake {
		t.Errorf("unexpected views: %+v", views)
	}
}

func TestListBookingsHandlerEmpty(t *testing.T) {
	srv, mock := setup(t)
	performer := model.User{ID: 2, Role: model.RolePerformer}

	mock.EXPECT().
		ListBookings(gomock.Any(), performer, true).
		Return(nil, nil)

	req := newBookingRequest("GET", "/api/bookings/own", performer, "", "")
	w := httptest.NewRecorder()

	srv.ListOwnBookingsHandler(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestOfferHandler(t *testing.T) {
	srv, mock := setup(t)
	performer := model.User{ID: 2, Role: model.RolePerformer}

	mock.EXPECT().
		OfferPerformer(gomock.Any(), 7, performer).
		Return(nil)

	req := newBookingRequest("POST", "/api/bookings/7/offer", performer, "7", "")
	w := httptest.NewRecorder()

	srv.OfferHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestOfferHandlerErrors(t *testing.T) {
	performer := model.User{ID: 2, Role: model.RolePerformer}

	tests := []struct {
		name       string
		storageErr error
		wantStatus int
	}{
		{"duplicate application", errs.ErrDuplicateCandidate, http.StatusConflict},
		{"insufficient funds", errs.ErrInsufficientFunds, http.StatusPaymentRequired},
		{"wrong status", errs.ErrInvalidStatus, http.StatusConflict},
		{"no booking", errs.ErrBookingNotFound, http.StatusNotFound},
		{"no customer account", errs.ErrNoProfile, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, mock := setup(t)

			mock.EXPECT().
				OfferPerformer(gomock.Any(), 7, performer).
				Return(tt.storageErr)

			req := newBookingRequest("POST", "/api/bookings/7/offer", performer, "7", "")
			w := httptest.NewRecorder()

			srv.OfferHandler(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestOfferHandlerCustomerForbidden(t *testing.T) {
	srv, _ := setup(t)
	customer := model.User{ID: 1, Role: model.RoleCustomer}

	req := newBookingRequest("POST", "/api/bookings/7/offer", customer, "7", "")
	w := httptest.NewRecorder()

	srv.OfferHandler(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestApproveHandler(t *testing.T) {
	srv, mock := setup(t)
	customer := model.User{ID: 1, Role: model.RoleCustomer}

	mock.EXPECT().
		ApprovePerformer(gomock.Any(), 7, customer, 2).
		Return(nil)

	req := newBookingRequest("POST", "/api/bookings/7/approve", customer, "7", `{"performer_id":2}`)
	w := httptest.NewRecorder()

	srv.ApproveHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestApproveHandlerErrors(t *testing.T) {
	customer := model.User{ID: 1, Role: model.RoleCustomer}

	tests := []struct {
		name       string
		storageErr error
		wantStatus int
	}{
		{"unknown candidate", errs.ErrUnknownCandidate, http.StatusUnprocessableEntity},
		{"not owner", errs.ErrNotOwner, http.StatusForbidden},
		{"insufficient funds", errs.ErrInsufficientFunds, http.StatusPaymentRequired},
		{"wrong status", errs.ErrInvalidStatus, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, mock := setup(t)

			mock.EXPECT().
				ApprovePerformer(gomock.Any(), 7, customer, 2).
				Return(tt.storageErr)

			req := newBookingRequest("POST", "/api/bookings/7/approve", customer, "7", `{"performer_id":2}`)
			w := httptest.NewRecorder()

			srv.ApproveHandler(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestCompleteHandler(t *testing.T) {
	srv, mock := setup(t)
	customer := model.User{ID: 1, Role: model.RoleCustomer}

	mock.EXPECT().
		CompleteBooking(gomock.Any(), 7, customer).
		Return(model.Payout{Commission: 1.20, PerformerShare: 10.80}, nil)

	req := newBookingRequest("POST", "/api/bookings/7/complete", customer, "7", "")
	w := httptest.NewRecorder()

	srv.CompleteHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var payout model.Payout
	if err := json.Unmarshal(w.Body.Bytes(), &payout); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payout.Commission != 1.20 || payout.PerformerShare != 10.80 {
		t.Errorf("unexpected payout: %+v", payout)
	}
}

func TestCompleteHandlerNotOwner(t *testing.T) {
	// чужой заказчик пытается завершить заказ
	srv, mock := setup(t)
	stranger := model.User{ID: 5, Role: model.RoleCustomer}

	mock.EXPECT().
		CompleteBooking(gomock.Any(), 7, stranger).
		Return(model.Payout{}, errs.ErrNotOwner)

	req := newBookingRequest("POST", "/api/bookings/7/complete", stranger, "7", "")
	w := httptest.NewRecorder()

	srv.CompleteHandler(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestDeleteBookingHandlerNotFound(t *testing.T) {
	// удаление в WAITING_FOR_APPROVAL выглядит как отсутствие заказа
	srv, mock := setup(t)
	customer := model.User{ID: 1, Role: model.RoleCustomer}

	mock.EXPECT().
		DeleteBooking(gomock.Any(), 7, customer).
		Return(errs.ErrBookingNotFound)

	req := newBookingRequest("DELETE", "/api/bookings/7", customer, "7", "")
	w := httptest.NewRecorder()

	srv.DeleteBookingHandler(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestUpdateBookingHandler(t *testing.T) {
	srv, mock := setup(t)
	customer := model.User{ID: 1, Role: model.RoleCustomer}

	title := "new title"
	mock.EXPECT().
		UpdateBooking(gomock.Any(), 7, customer, model.UpdateBookingRequest{Title: &title}).
		Return(nil)

	req := newBookingRequest("PATCH", "/api/bookings/7", customer, "7", `{"title":"new title"}`)
	w := httptest.NewRecorder()

	srv.UpdateBookingHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestUpdateBookingHandlerEmptyBody(t *testing.T) {
	srv, _ := setup(t)
	customer := model.User{ID: 1, Role: model.RoleCustomer}

	req := newBookingRequest("PATCH", "/api/bookings/7", customer, "7", `{}`)
	w := httptest.NewRecorder()

	srv.UpdateBookingHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAddCommentHandlerForbidden(t *testing.T) {
	srv, mock := setup(t)
	performer := model.User{ID: 2, Role: model.RolePerformer}

	mock.EXPECT().
		AddComment(gomock.Any(), 7, performer, "hello").
		Return(model.Comment{}, errs.ErrForbidden)

	req := newBookingRequest("POST", "/api/bookings/7/comments", performer, "7", `{"text":"hello"}`)
	w := httptest.NewRecorder()

	srv.AddCommentHandler(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestGetBalanceHandler(t *testing.T) {
	srv, mock := setup(t)
	user := model.User{ID: 1, Role: model.RoleCustomer}

	mock.EXPECT().
		GetAccount(gomock.Any(), 1).
		Return(model.Account{UserID: 1, Balance: 20.00}, nil)

	req := newBookingRequest("GET", "/api/user/balance", user, "", "")
	w := httptest.NewRecorder()

	srv.GetBalanceHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var account model.Account
	if err := json.Unmarshal(w.Body.Bytes(), &account); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if account.Balance != 20.00 {
		t.Errorf("expected balance 20.00, got %.2f", account.Balance)
	}
}

func TestTopupHandler(t *testing.T) {
	srv, mock := setup(t)
	user := model.User{ID: 1, Role: model.RoleCustomer}

	mock.EXPECT().
		CreditAccount(gomock.Any(), 1, 50.0).
		Return(nil)

	req := newBookingRequest("POST", "/api/user/balance/topup", user, "", `{"sum":50}`)
	w := httptest.NewRecorder()

	srv.TopupHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestTopupHandlerInvalidSum(t *testing.T) {
	srv, _ := setup(t)
	user := model.User{ID: 1, Role: model.RoleCustomer}

	req := newBookingRequest("POST", "/api/user/balance/topup", user, "", `{"sum":-5}`)
	w := httptest.NewRecorder()

	srv.TopupHandler(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
}
