package controller

import (
	"errors"
	"time"

	"mietplatz/dto"
	"mietplatz/service"
	"mietplatz/util"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// genericAuthError is returned for both invalid and replayed refresh tokens
// so an attacker cannot tell whether a stolen token was detected
const genericAuthError = "invalid or expired refresh token"

// AuthController provides handlers for authentication
type AuthController struct {
	svc *service.AuthService
}

func NewAuthController(s *service.AuthService) *AuthController {
	return &AuthController{svc: s}
}

func requestMeta(c *fiber.Ctx, deviceID string) service.RequestMeta {
	return service.RequestMeta{
		DeviceID:  deviceID,
		ClientIP:  c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
}

func setRefreshCookie(c *fiber.Ctx, value string) {
	cookiePath := util.CookiePath()

	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    value,
		Expires:  time.Now().Add(util.RefreshTokenTTL()),
		HTTPOnly: true,     // JS cannot access
		Secure:   true,     // HTTPS only (set false for localhost if needed)
		SameSite: "Strict", // CSRF protection
		Path:     cookiePath,
	})
}

// Register godoc
// @Summary      Register a new user
// @Description  Create a user account with email and password. Assigns the default 'tenant' role.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload body dto.RegisterRequest true "Register payload"
// @Success      201  {object}  dto.RegisterResponse
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /auth/register [post]
func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request payload"})
	}

	if err := util.ValidateStruct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res, err := ac.svc.Register(&req)
	if err != nil {
		if util.IsDuplicateKeyError(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email already registered"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(res)
}

// Login godoc
// @Summary      Login with email and password
// @Description  Validates credentials, returns Access Token in JSON, and sets Refresh Token in HttpOnly Cookie.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload body dto.LoginRequest true "Login payload"
// @Success      200  {object}  dto.LoginResponse
// @Header       200  {string}  Set-Cookie "refresh_token=...; HttpOnly; Secure"
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /auth/login [post]
func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request payload"})
	}

	if err := util.ValidateStruct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res, err := ac.svc.Login(c.UserContext(), &req, requestMeta(c, req.DeviceID))
	if err != nil {
		if err.Error() == "invalid credentials" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	setRefreshCookie(c, res.RefreshToken)

	return c.Status(fiber.StatusOK).JSON(res)
}

// Refresh godoc
// @Summary      Rotate refresh token
// @Description  Reads 'refresh_token' from HttpOnly Cookie (or the JSON body) and issues a new Access/Refresh pair. A detected reuse revokes the whole session lineage.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        Cookie header string false "Cookie containing refresh_token"
// @Success      200  {object}  dto.RefreshResponse
// @Header       200  {string}  Set-Cookie "refresh_token=...; HttpOnly; Secure"
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /auth/refresh [post]
func (ac *AuthController) Refresh(c *fiber.Ctx) error {
	// 1. Cookie first, JSON body as fallback for non-browser clients
	var req dto.RefreshRequest
	req.RefreshToken = c.Cookies("refresh_token")
	if req.RefreshToken == "" {
		if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing refresh token"})
		}
	}

	// 2. Call Service
	res, err := ac.svc.Refresh(c.UserContext(), &req, requestMeta(c, req.DeviceID))
	if err != nil {
		// Clear cookie on failure
		c.ClearCookie("refresh_token")

		// Invalid and replayed tokens share one response shape on purpose
		if errors.Is(err, service.ErrInvalidToken) || errors.Is(err, service.ErrReplayDetected) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": genericAuthError})
		}
		// Storage failures must NOT log a legitimate user out
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	// 3. Rotate Cookie
	setRefreshCookie(c, res.RefreshToken)

	return c.Status(fiber.StatusOK).JSON(res)
}

// Logout godoc
// @Summary      Logout and revoke the session lineage
// @Description  Revokes the presented refresh token's whole family and blacklists the current access token.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        Authorization header string true "Bearer <access_token>"
// @Param        Cookie header string false "Cookie containing refresh_token"
// @Success      200  {object}  dto.LogoutResponse
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /auth/logout [post]
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	raw, ok := c.Locals("access_token").(string)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
	}
	claims, err := util.ParseAccessToken(raw)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
	}

	jti, _ := uuid.Parse(claims.ID)

	refreshSecret := c.Cookies("refresh_token")
	if refreshSecret == "" {
		var req dto.LogoutRequest
		if err := c.BodyParser(&req); err == nil {
			refreshSecret = req.RefreshToken
		}
	}

	if err := ac.svc.Logout(c.UserContext(), refreshSecret, jti, util.AccessTokenTTL()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	c.ClearCookie("refresh_token")

	return c.Status(fiber.StatusOK).JSON(dto.LogoutResponse{Message: "logged out"})
}
