package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-otp-auth/internal/application/auth"
	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/validate"
	"github.com/go-otp-auth/internal/transport/http/middleware"
)

const dateOfBirthLayout = "2006-01-02"

// AuthHandler serves registration, OTP verification and login.
type AuthHandler struct {
	svc auth.Service
}

func NewAuthHandler(svc auth.Service) *AuthHandler { return &AuthHandler{svc: svc} }

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	dob, err := time.Parse(dateOfBirthLayout, req.DateOfBirth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
		return
	}
	u, err := h.svc.Register(r.Context(), auth.RegisterInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNo:     req.PhoneNo,
		DateOfBirth: dob,
		Password:    req.Password,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterEnvelope{
		Message: "User registered successfully. OTP sent to phone number.",
		UserID:  u.UserID,
	})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOTPRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.VerifyOTP(r.Context(), req.PhoneNo, req.OTP); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "OTP verified successfully."})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginEnvelope{Message: "Login successful.", Token: token})
}

// Me returns the claims of the bearer token. Mounted behind middleware.Auth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	env := MeEnvelope{UserID: claims.UserID, Email: claims.Email}
	if claims.ExpiresAt != nil {
		env.ExpiresAt = claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, env)
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
