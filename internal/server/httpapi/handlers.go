package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/protocol"
	"github.com/cravecart/cravecart/internal/server/models"
)

const maxBodyBytes = 1 << 20

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

type authResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type orderRequest struct {
	OrderID string `json:"orderId"`
}

type orderUpdateRequest struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !s.decode(w, r, &in) {
		return
	}
	s.log.Info(r.Context(), "Registration request")

	sess, err := s.users.Register(r.Context(), in.Email, in.Password, in.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info(r.Context(), "Registered", "user_id", sess.User.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		Token:        sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
		User:         toUserResponse(sess.User),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !s.decode(w, r, &in) {
		return
	}

	sess, err := s.users.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Token:        sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
		User:         toUserResponse(sess.User),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("refresh_token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "refresh_token is required"})
		return
	}

	pair, err := s.users.RefreshToken(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	u, err := s.users.Me(r.Context(), claims.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// handlePlaceOrder announces a new order to admins and confirms it to its
// owner. Orders are not stored; the endpoint only drives notifications.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in orderRequest
	if r.ContentLength != 0 && !s.decode(w, r, &in) {
		return
	}
	if in.OrderID == "" {
		in.OrderID = s.opts.NewOrderID()
	}
	claims, _ := ClaimsFrom(r.Context())

	ev := protocol.OrderEvent{OrderID: in.OrderID, Status: "placed"}
	if err := s.orders.NotifyNewOrder(r.Context(), ev); err != nil {
		s.writeError(w, r, fmt.Errorf("notify admins: %w", err))
		return
	}
	if err := s.orders.NotifyOrderStatus(r.Context(), claims.ID, ev); err != nil {
		s.log.Warn(r.Context(), "order confirmation not delivered", "order_id", ev.OrderID, "error", err)
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleOrderUpdate(e protocol.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in orderUpdateRequest
		if !s.decode(w, r, &in) {
			return
		}
		if !protocol.ValidUserID(in.UserID) || in.Status == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId and status are required"})
			return
		}

		ev := protocol.OrderEvent{OrderID: chi.URLParam(r, "id"), Status: in.Status}
		notify := s.orders.NotifyOrderStatus
		if e == protocol.EventPaymentUpdate {
			notify = s.orders.NotifyPayment
		}
		if err := notify(r.Context(), in.UserID, ev); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

// writeError maps sentinel errors to status codes. Unknown errors are
// logged and answered with a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation), errors.Is(err, protocol.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, common.ErrTokenExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: common.ErrTokenExpired.Error()})
	case errors.Is(err, common.ErrRefreshTokenExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: common.ErrRefreshTokenExpired.Error()})
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, common.ErrorNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, common.ErrorAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "already exists"})
	default:
		s.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newOrderID() string { return uuid.NewString() }
