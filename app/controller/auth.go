package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	httpdto "github.com/medhire/auth-service/app/dto/http"
	"github.com/medhire/auth-service/app/service"
)

type AuthController struct {
	sessions      service.SessionService
	passwordReset service.PasswordResetService
}

func NewAuthController(sessions service.SessionService, passwordReset service.PasswordResetService) *AuthController {
	return &AuthController{sessions: sessions, passwordReset: passwordReset}
}

func (c *AuthController) Register(ctx echo.Context) error {
	req, err := httpdto.NewRegisterRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind register request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Register validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Register request received")
	user, err := c.sessions.Register(ctx.Request().Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			logrus.WithField("email", req.Email).Warn("Register failed: user already exists")
			return ctx.JSON(http.StatusConflict, httpdto.ErrorResponse{Error: "user already exists"})
		}
		if errors.Is(err, service.ErrUnsupportedRole) {
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "role must be doctor or hospital"})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Register failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User registered")

	return ctx.JSON(http.StatusCreated, httpdto.RegisterResponse{
		User:    httpdto.NewUserResponse(user),
		Message: "registration successful, account pending approval",
	})
}

func (c *AuthController) Login(ctx echo.Context) error {
	req, err := httpdto.NewLoginRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind login request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Login validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Login request received")
	result, err := c.sessions.Login(ctx.Request().Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: ctx.Request().UserAgent(),
		IPAddress: ctx.RealIP(),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			logrus.WithField("email", req.Email).Warn("Login failed: invalid credentials")
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid credentials"})
		}
		if errors.Is(err, service.ErrAccountDisabled) {
			logrus.WithField("email", req.Email).Warn("Login failed: account disabled")
			return ctx.JSON(http.StatusForbidden, httpdto.ErrorResponse{Error: "account is disabled"})
		}
		if errors.Is(err, service.ErrPendingApproval) {
			logrus.WithField("email", req.Email).Warn("Login failed: account pending approval")
			return ctx.JSON(http.StatusForbidden, httpdto.ErrorResponse{Error: "account is pending approval"})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Login failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	logrus.WithField("user_id", result.User.ID).Info("Login successful")
	return ctx.JSON(http.StatusOK, httpdto.SessionResponse{
		User:         httpdto.NewUserResponse(result.User),
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		IsFirstLogin: result.IsFirstLogin,
	})
}

func (c *AuthController) RefreshToken(ctx echo.Context) error {
	req, err := httpdto.NewRefreshTokenRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind refresh token request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Refresh token validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	result, err := c.sessions.Refresh(ctx.Request().Context(), service.RefreshInput{
		RefreshToken: req.RefreshToken,
		UserAgent:    ctx.Request().UserAgent(),
		IPAddress:    ctx.RealIP(),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			logrus.Warn("Refresh token failed: invalid or expired token")
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid or expired refresh token"})
		}
		if errors.Is(err, service.ErrAccountDisabled) {
			logrus.Warn("Refresh token failed: account disabled, sessions revoked")
			return ctx.JSON(http.StatusForbidden, httpdto.ErrorResponse{Error: "account is disabled"})
		}
		if errors.Is(err, service.ErrPendingApproval) {
			logrus.Warn("Refresh token failed: account pending approval, sessions revoked")
			return ctx.JSON(http.StatusForbidden, httpdto.ErrorResponse{Error: "account is pending approval"})
		}
		logrus.WithError(err).Error("Refresh token failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, httpdto.SessionResponse{
		User:         httpdto.NewUserResponse(result.User),
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

func (c *AuthController) Logout(ctx echo.Context) error {
	req, err := httpdto.NewLogoutRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind logout request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Logout validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	if err = c.sessions.Logout(ctx.Request().Context(), req.RefreshToken); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			logrus.Warn("Logout failed: session not found")
			return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "session not found"})
		}
		logrus.WithError(err).Error("Logout failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "logged out successfully"})
}

func (c *AuthController) LogoutAll(ctx echo.Context) error {
	userID, ok := ctx.Get("user_id").(uint64)
	if !ok {
		logrus.Warn("Logout all failed: missing user_id in context")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
	}

	logrus.WithField("user_id", userID).Info("Logout all request received")
	if err := c.sessions.LogoutAll(ctx.Request().Context(), userID); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Logout all failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "logged out everywhere"})
}

func (c *AuthController) RequestPasswordReset(ctx echo.Context) error {
	req, err := httpdto.NewRequestPasswordResetRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind request password reset")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Request password reset validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Password reset requested")
	if err = c.passwordReset.RequestReset(ctx.Request().Context(), service.RequestResetInput{
		Email:     req.Email,
		IPAddress: ctx.RealIP(),
		UserAgent: ctx.Request().UserAgent(),
	}); err != nil {
		logrus.WithError(err).WithField("email", req.Email).Error("Request password reset failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	// Always the same response, whether or not the account exists.
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{
		Message: "if the email exists, a reset link has been sent",
	})
}

func (c *AuthController) ResetPassword(ctx echo.Context) error {
	req, err := httpdto.NewResetPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind reset password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Reset password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	if err = c.passwordReset.ResetPassword(ctx.Request().Context(), service.ResetPasswordInput{
		RawToken:    req.Token,
		NewPassword: req.NewPassword,
		IPAddress:   ctx.RealIP(),
		UserAgent:   ctx.Request().UserAgent(),
	}); err != nil {
		if errors.Is(err, service.ErrInvalidResetToken) {
			logrus.Warn("Reset password failed: invalid token")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid or expired token"})
		}
		if errors.Is(err, service.ErrResetTokenUsed) {
			logrus.Warn("Reset password failed: token already used")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "token already used"})
		}
		if errors.Is(err, service.ErrResetTokenExpired) {
			logrus.Warn("Reset password failed: token expired")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "token has expired"})
		}
		logrus.WithError(err).Error("Reset password failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	logrus.Info("Password reset successful")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "password reset successfully"})
}
