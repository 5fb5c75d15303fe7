package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/sharedauth/internal/application/dto"
	"github.com/turtacn/sharedauth/internal/application/service"
	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/interfaces/http/middleware"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// AuthHandler handles the token and identity endpoints of the auth node.
type AuthHandler struct {
	tokens  service.TokenAppService
	cookies config.CookieConfig
	now     func() time.Time
	logger  logger.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(tokens service.TokenAppService, cookies config.CookieConfig, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		tokens:  tokens,
		cookies: cookies,
		now:     time.Now,
		logger:  log.WithComponent("auth_handler"),
	}
}

// Me returns the authenticated caller.
func (h *AuthHandler) Me(c *gin.Context) {
	dto.SendSuccess(c, http.StatusOK, dto.NewIdentityResponse(middleware.IdentityFrom(c)))
}

// Greeting answers every caller and personalizes the message when a valid token was presented.
func (h *AuthHandler) Greeting(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	message := "Hello, guest"
	if id.Authenticated {
		message = fmt.Sprintf("Hello, %s", id.Username)
	}
	dto.SendSuccess(c, http.StatusOK, gin.H{
		"message":  message,
		"identity": dto.NewIdentityResponse(id),
	})
}

// Refresh reissues both tokens for the holder of a valid refresh token and rewrites the cookies.
func (h *AuthHandler) Refresh(c *gin.Context) {
	pair, err := h.tokens.Refresh(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		dto.SendError(c, err)
		return
	}

	now := h.now()
	SetTokenCookie(c.Writer, h.cookies, pair.Access, now)
	SetTokenCookie(c.Writer, h.cookies, pair.Refresh, now)
	dto.SendSuccess(c, http.StatusOK, dto.NewTokenPairResponse(pair.Access, pair.Refresh))
}

// Logout clears both token cookies. Tokens already handed out stay valid until they expire.
func (h *AuthHandler) Logout(c *gin.Context) {
	ClearTokenCookies(c.Writer, h.cookies)
	c.Status(http.StatusNoContent)
}

// IssueTokens mints a token pair for the identity in the request body (admin only). The tokens
// are returned in the body and not set as cookies, since they belong to someone else.
func (h *AuthHandler) IssueTokens(c *gin.Context) {
	var req dto.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.Wrap(err, errors.KindInvalidArgument, "invalid request body"))
		return
	}

	pair, err := h.tokens.IssuePair(c.Request.Context(), &req)
	if err != nil {
		dto.SendError(c, err)
		return
	}

	h.logger.Info(c.Request.Context(), "Token pair minted by administrator",
		logger.String("admin", middleware.IdentityFrom(c).Username),
		logger.String("subject", req.Username),
	)
	dto.SendSuccess(c, http.StatusCreated, dto.NewTokenPairResponse(pair.Access, pair.Refresh))
}

// RotateKeys triggers an immediate key rotation (admin only). A rotation already running
// answers 409.
func (h *AuthHandler) RotateKeys(c *gin.Context) {
	resp, err := h.tokens.RotateKeys(c.Request.Context())
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, resp)
}

//Personal.AI order the ending
