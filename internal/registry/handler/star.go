package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/StarRegistry/internal/starledger"
	"go.uber.org/zap"
)

// Error codes returned with rejected claims so clients can tell which step
// to repeat.
const (
	CodeMalformedMessage = "malformed_message"
	CodeExpired          = "expired"
	CodeSignatureInvalid = "signature_invalid"
	CodeAppendFailed     = "append_failed"
)

// StarHandler serves the star ownership claim flow.
type StarHandler struct {
	ledger starledger.Ledger
	logger *zap.Logger
}

// NewStarHandler creates a new StarHandler.
func NewStarHandler(ledger starledger.Ledger, logger *zap.Logger) *StarHandler {
	return &StarHandler{ledger: ledger, logger: logger}
}

// Register mounts the claim routes. submit wraps the submission route with
// extra middleware such as a stricter rate limiter; it may be nil.
func (h *StarHandler) Register(rg *gin.RouterGroup, submit ...gin.HandlerFunc) {
	rg.POST("/requestValidation", h.RequestValidation)
	rg.POST("/submitstar", append(submit, h.SubmitStar)...)
	rg.GET("/blocks/:address", h.StarsByAddress)
}

type challengeRequest struct {
	Address string `json:"address" binding:"required"`
}

// RequestValidation handles POST /requestValidation. Returns the message the
// wallet owner must sign.
func (h *StarHandler) RequestValidation(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	address := strings.TrimSpace(req.Address)
	if address == "" || strings.Contains(address, ":") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": h.ledger.RequestChallenge(c.Request.Context(), address)})
}

type submitRequest struct {
	Address   string          `json:"address" binding:"required"`
	Message   string          `json:"message" binding:"required"`
	Signature string          `json:"signature" binding:"required"`
	Star      json.RawMessage `json:"star" binding:"required"`
}

// SubmitStar handles POST /submitstar. Admits a signed star claim.
func (h *StarHandler) SubmitStar(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address, message, signature and star are required"})
		return
	}
	if !isJSONObject(req.Star) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "star must be a JSON object"})
		return
	}

	block, err := h.ledger.SubmitStar(c.Request.Context(), req.Address, req.Message, req.Signature, req.Star)
	if err != nil {
		status, code := claimErrorStatus(err)
		RecordClaim(code)
		if status >= http.StatusInternalServerError {
			h.logger.Error("star claim failed", zap.String("address", req.Address), zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error(), "code": code})
		return
	}

	RecordClaim("accepted")
	c.JSON(http.StatusOK, block)
}

// StarsByAddress handles GET /blocks/:address. Lists the stars owned by address.
func (h *StarHandler) StarsByAddress(c *gin.Context) {
	address := c.Param("address")
	stars, err := h.ledger.StarsByWalletAddress(c.Request.Context(), address)
	if err != nil {
		h.logger.Error("stars by wallet address", zap.String("address", address), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger integrity violation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "stars": stars, "count": len(stars)})
}

// claimErrorStatus maps a SubmitStar error to an HTTP status and error code.
func claimErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, starledger.ErrMalformedMessage):
		return http.StatusBadRequest, CodeMalformedMessage
	case errors.Is(err, starledger.ErrClaimExpired):
		return http.StatusGone, CodeExpired
	case errors.Is(err, starledger.ErrSignatureInvalid):
		return http.StatusUnauthorized, CodeSignatureInvalid
	case errors.Is(err, starledger.ErrChainCorrupt):
		return http.StatusConflict, CodeAppendFailed
	default:
		return http.StatusInternalServerError, CodeAppendFailed
	}
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
