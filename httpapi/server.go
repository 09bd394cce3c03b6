package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/civicsetu/civicauth"
	"github.com/civicsetu/civicauth/middleware"
)

// Server holds the handlers for the authentication routes.
type Server struct {
	engine   *civicauth.Engine
	log      *zap.Logger
	validate *validator.Validate
}

// NewServer wires the HTTP surface over the engine.
func NewServer(engine *civicauth.Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		engine:   engine,
		log:      log,
		validate: validator.New(),
	}
}

// Routes builds the full mux: auth API, role-gated destinations, health,
// and the catch-all redirect to the root. The metrics handler is passed
// in so the binary decides what registry backs it.
func (s *Server) Routes(metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST /api/auth/register", s.handle(s.RegisterHandler))
	mux.Handle("POST /api/auth/login", s.handle(s.LoginHandler))
	mux.Handle("POST /api/auth/forgot-password", s.handle(s.ForgotPasswordHandler))
	mux.Handle("POST /api/auth/reset-password", s.handle(s.ResetPasswordHandler))
	mux.Handle("POST /api/auth/send-otp", s.handle(s.SendOTPHandler))
	mux.Handle("POST /api/auth/verify-otp", s.handle(s.VerifyOTPHandler))
	mux.Handle("POST /api/auth/token-login", s.handle(s.TokenLoginHandler))
	mux.Handle("POST /api/auth/logout", s.handle(s.LogoutHandler))

	citizenOnly := middleware.RequireRole(s.engine, civicauth.RoleCitizen)
	adminOnly := middleware.RequireRole(s.engine, civicauth.RoleAdmin)
	mux.Handle("GET /civic/dashboard", citizenOnly(s.handle(s.DashboardHandler)))
	mux.Handle("GET /admin/dashboard", adminOnly(s.handle(s.DashboardHandler)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Unknown paths land on the root instead of a 404 page.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	})

	return mux
}

type registerRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8"`
	Role       string `json:"role" validate:"required,oneof=citizen admin"`
	FirstName  string `json:"firstName" validate:"required"`
	LastName   string `json:"lastName" validate:"required"`
	Mobile     string `json:"mobile" validate:"omitempty,min=7"`
	City       string `json:"city"`
	Address    string `json:"address"`
	Department string `json:"department"`
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) Response {
	var data registerRequest
	if res, ok := s.decode(r, &data); !ok {
		return res
	}

	role, err := civicauth.ParseRole(data.Role)
	if err != nil {
		return Response{Error: err, Code: http.StatusBadRequest, Message: "Unknown role."}
	}

	result, err := s.engine.Register(withClientIP(r), civicauth.RegisterRequest{
		Email:      data.Email,
		Password:   data.Password,
		Role:       role,
		FirstName:  data.FirstName,
		LastName:   data.LastName,
		Mobile:     data.Mobile,
		City:       data.City,
		Address:    data.Address,
		Department: data.Department,
	})
	if err != nil {
		return s.engineError("register", err)
	}

	return Response{
		Code:    http.StatusCreated,
		Message: "Registered. Verification required.",
		Data: map[string]any{
			"userId":  result.UserID,
			"handoff": handoffPayload(result.Handoff),
		},
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=citizen admin"`
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) Response {
	var data loginRequest
	if res, ok := s.decode(r, &data); !ok {
		return res
	}

	var rolePtr *civicauth.Role
	if data.Role != "" {
		role, err := civicauth.ParseRole(data.Role)
		if err != nil {
			return Response{Error: err, Code: http.StatusBadRequest, Message: "Unknown role."}
		}
		rolePtr = &role
	}

	result, err := s.engine.Login(withClientIP(r), data.Email, data.Password, rolePtr)
	if err != nil {
		return s.engineError("login", err)
	}

	if result.VerificationRequired {
		return Response{
			Code:    http.StatusAccepted,
			Message: "Verification required.",
			Data: map[string]any{
				"verificationRequired": true,
				"handoff":              handoffPayload(result.Handoff),
			},
		}
	}

	setSessionCookie(w, result.SessionToken)
	return Response{
		Code:    http.StatusOK,
		Message: "Signed in.",
		Data: map[string]any{
			"accessToken": result.AccessToken,
		},
	}
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) Response {
	var data forgotPasswordRequest
	if res, ok := s.decode(r, &data); !ok {
		return res
	}

	if err := s.engine.RequestPasswordReset(withClientIP(r), data.Email); err != nil {
		return s.engineError("forgot password", err)
	}

	return Response{
		Code:    http.StatusOK,
		Message: "If the account exists, a reset code has been sent.",
	}
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	OTP         string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

func (s *Server) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) Response {
	var data resetPasswordRequest
	if res, ok := s.decode(r, &data); !ok {
		return res
	}

	if err := s.engine.ConfirmPasswordReset(withClientIP(r), data.Email, data.OTP, data.NewPassword); err != nil {
		return s.engineError("reset password", err)
	}

	return Response{Code: http.StatusOK, Message: "Password updated."}
}

// otpRequest carries the channel plus the hand-off fields the engine
// needs to scope the verification.
type otpRequest struct {
	Type    string `json:"type" validate:"required,oneof=whatsapp email"`
	Contact string `json:"contact" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Mobile  string `json:"mobile"`
	Role    string `json:"role" validate:"omitempty,oneof=citizen admin"`
	Mode    string `json:"mode" validate:"omitempty,oneof=register login"`
	UserID  string `json:"userId"`
	OTP     string `json:"otp" validate:"omitempty,len=6,numeric"`
}

func (s *Server) SendOTPHandler(w http.ResponseWriter, r *http.Request) Response {
	var data otpRequest
	if res, ok := s.decode(r, &data); !ok {
		return res
	}

	channel, handoff, res, ok := s.otpTarget(data)
	if !ok {
		return res
	}

	if err := s.engine.RequestCode(withClientIP(r), handoff, channel); err != nil {
		return s.engineError("send otp", err)
	}

	return Response{Code: http.StatusOK, Message: "Code sent."}
}

func (s *Server) VerifyOTPHandler(w http.ResponseWriter, r *http.Request) Response {
	var data otpRequest
	if res, ok := s.decode(r, &data); !ok {
		return res
	}
	if data.OTP == "" {
		return Response{
			Error:   errors.New("verify otp: missing code"),
			Code:    http.StatusBadRequest,
			Message: "Code required.",
		}
	}

	channel, handoff, res, ok := s.otpTarget(data)
	if !ok {
		return res
	}

	result, err := s.engine.ConfirmCode(withClientIP(r), handoff, channel, data.OTP)
	if err != nil {
		return s.engineError("verify otp", err)
	}

	payload := map[string]any{
		"channel":     result.Channel.String(),
		"allVerified": result.AllVerified,
	}
	if result.UpgradeToken != "" {
		payload["token"] = result.UpgradeToken
	}

	return Response{Code: http.StatusOK, Message: "Code accepted.", Data: payload}
}

type tokenLoginRequest struct {
	Token string `json:"token" validate:"required"`
}

func (s *Server) TokenLoginHandler(w http.ResponseWriter, r *http.Request) Response {
	var data tokenLoginRequest
	if res, ok := s.decode(r, &data); !ok {
		return res
	}

	result, err := s.engine.LoginWithToken(withClientIP(r), data.Token)
	if err != nil {
		return s.engineError("token login", err)
	}

	setSessionCookie(w, result.SessionToken)
	return Response{
		Code:    http.StatusOK,
		Message: "Signed in.",
		Data: map[string]any{
			"accessToken": result.AccessToken,
			"role":        result.Role.String(),
			"home":        result.Role.HomePath(),
		},
	}
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) Response {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := s.engine.Logout(withClientIP(r), cookie.Value); err != nil {
			return s.engineError("logout", err)
		}
	}

	clearSessionCookie(w)
	return Response{Code: http.StatusOK, Message: "Signed out."}
}

// DashboardHandler serves either role's dashboard; the role router in
// front of it guarantees the caller belongs here.
func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) Response {
	res, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		return Response{
			Error:   errors.New("dashboard: auth result missing from context"),
			Code:    http.StatusUnauthorized,
			Message: "Unauthorized.",
		}
	}

	return Response{
		Code: http.StatusOK,
		Data: map[string]any{
			"userId": res.UserID,
			"email":  res.Email,
			"role":   res.Role.String(),
		},
	}
}

func (s *Server) decode(r *http.Request, into any) (Response, bool) {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return Response{
			Error:   fmt.Errorf("decode: %w", err),
			Code:    http.StatusBadRequest,
			Message: "Invalid request body.",
		}, false
	}
	if err := s.validate.Struct(into); err != nil {
		return Response{
			Error:   fmt.Errorf("validate: %w", err),
			Code:    http.StatusBadRequest,
			Message: "Invalid request.",
		}, false
	}
	return Response{}, true
}

// otpTarget turns an OTP request into the engine's channel + hand-off
// pair. The contact slots into the hand-off field matching the channel.
func (s *Server) otpTarget(data otpRequest) (civicauth.Channel, civicauth.Handoff, Response, bool) {
	channel, err := civicauth.ParseChannel(data.Type)
	if err != nil {
		return 0, civicauth.Handoff{}, Response{
			Error:   err,
			Code:    http.StatusBadRequest,
			Message: "Unknown channel type.",
		}, false
	}

	role := civicauth.RoleCitizen
	if data.Role != "" {
		role, err = civicauth.ParseRole(data.Role)
		if err != nil {
			return 0, civicauth.Handoff{}, Response{
				Error:   err,
				Code:    http.StatusBadRequest,
				Message: "Unknown role.",
			}, false
		}
	}

	mode := civicauth.ModeRegister
	if data.Mode == "login" {
		mode = civicauth.ModeLogin
	}

	handoff := civicauth.Handoff{
		Email:  data.Email,
		Mobile: data.Mobile,
		Role:   role,
		Mode:   mode,
		UID:    data.UserID,
	}
	if channel == civicauth.ChannelWhatsApp {
		handoff.Mobile = data.Contact
	} else {
		handoff.Email = data.Contact
	}
	if err := handoff.Validate(); err != nil {
		return 0, civicauth.Handoff{}, Response{
			Error:   err,
			Code:    http.StatusBadRequest,
			Message: "Verification state incomplete. Restart the flow.",
		}, false
	}

	return channel, handoff, Response{}, true
}

// engineError maps engine sentinels onto the HTTP error taxonomy:
// throttling is 429, credential and token problems are 401, validation
// is 400, collaborator failures are 502.
func (s *Server) engineError(op string, err error) Response {
	wrapped := fmt.Errorf("%s: %w", op, err)

	switch {
	case errors.Is(err, civicauth.ErrLoginRateLimited),
		errors.Is(err, civicauth.ErrRegistrationRateLimited),
		errors.Is(err, civicauth.ErrCodeRateLimited),
		errors.Is(err, civicauth.ErrPasswordResetRateLimited):
		return Response{Error: wrapped, Code: http.StatusTooManyRequests, Message: "Too many attempts. Try again later."}

	case errors.Is(err, civicauth.ErrInvalidCredentials),
		errors.Is(err, civicauth.ErrRoleMismatch),
		errors.Is(err, civicauth.ErrAccountDisabled),
		errors.Is(err, civicauth.ErrAccountUnverified),
		errors.Is(err, civicauth.ErrUpgradeTokenInvalid),
		errors.Is(err, civicauth.ErrTokenInvalid),
		errors.Is(err, civicauth.ErrSessionNotFound):
		return Response{Error: wrapped, Code: http.StatusUnauthorized, Message: "Authentication failed."}

	case errors.Is(err, civicauth.ErrAccountExists):
		return Response{Error: wrapped, Code: http.StatusConflict, Message: "Account already exists."}

	case errors.Is(err, civicauth.ErrCodeInvalid),
		errors.Is(err, civicauth.ErrCodeAttemptsExceeded),
		errors.Is(err, civicauth.ErrPasswordResetInvalid),
		errors.Is(err, civicauth.ErrPasswordResetAttempts):
		return Response{Error: wrapped, Code: http.StatusBadRequest, Message: "Invalid or expired code."}

	case errors.Is(err, civicauth.ErrRegistrationInvalid),
		errors.Is(err, civicauth.ErrRoleInvalid),
		errors.Is(err, civicauth.ErrChannelInvalid),
		errors.Is(err, civicauth.ErrHandoffIncomplete),
		errors.Is(err, civicauth.ErrPasswordPolicy):
		return Response{Error: wrapped, Code: http.StatusBadRequest, Message: "Invalid request."}

	case errors.Is(err, civicauth.ErrCodeDeliveryFailed),
		errors.Is(err, civicauth.ErrProfileSaveFailed),
		errors.Is(err, civicauth.ErrRegistrationUnavailable),
		errors.Is(err, civicauth.ErrVerificationUnavailable),
		errors.Is(err, civicauth.ErrPasswordResetUnavailable):
		return Response{Error: wrapped, Code: http.StatusBadGateway, Message: "Upstream service unavailable. Try again."}

	default:
		return Response{Error: wrapped, Code: http.StatusInternalServerError, Message: "Internal error."}
	}
}

func handoffPayload(h civicauth.Handoff) map[string]any {
	return map[string]any{
		"email":  h.Email,
		"mobile": h.Mobile,
		"role":   h.Role.String(),
		"mode":   h.Mode.String(),
		"userId": h.UID,
	}
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// withClientIP threads the caller's network address into the engine's
// context for the per-IP throttles.
func withClientIP(r *http.Request) context.Context {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		if i := strings.IndexByte(ip, ','); i >= 0 {
			ip = ip[:i]
		}
		ip = strings.TrimSpace(ip)
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return civicauth.WithClientIP(r.Context(), ip)
}
