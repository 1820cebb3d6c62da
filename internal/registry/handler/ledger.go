package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/StarRegistry/internal/starledger"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// LedgerHandler exposes read-only HTTP endpoints for the star chain.
type LedgerHandler struct {
	ledger starledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger starledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/validate", h.Validate)
		l.GET("/blocks", h.ListBlocks)
	}
	rg.GET("/block/height/:height", h.GetBlockByHeight)
	rg.GET("/block/hash/:hash", h.GetBlockByHash)
}

// Overview handles GET /ledger. Returns the chain height and current root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	height := h.ledger.Height(ctx)
	SetLedgerHeight(height)
	c.JSON(http.StatusOK, gin.H{
		"height": height,
		"root":   h.ledger.Root(ctx),
	})
}

// Validate handles GET /ledger/validate. Walks the full chain and reports
// every finding. A damaged chain is still a 200; the body says valid=false.
func (h *LedgerHandler) Validate(c *gin.Context) {
	findings := h.ledger.Validate(c.Request.Context())
	SetValidationErrors(len(findings))

	if len(findings) > 0 {
		h.logger.Warn("chain validation failed", zap.Int("findings", len(findings)))
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":  len(findings) == 0,
		"errors": findings,
	})
}

// ListBlocks handles GET /ledger/blocks?from=&limit=. Returns a page of blocks.
func (h *LedgerHandler) ListBlocks(c *gin.Context) {
	from, err := strconv.Atoi(c.DefaultQuery("from", "0"))
	if err != nil || from < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a non-negative integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	limit = min(limit, maxPageSize)

	blocks := h.ledger.Blocks(c.Request.Context(), from, limit)
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)})
}

// GetBlockByHeight handles GET /block/height/:height. Returns a single block.
func (h *LedgerHandler) GetBlockByHeight(c *gin.Context) {
	height, err := strconv.Atoi(c.Param("height"))
	if err != nil || height < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "height must be a non-negative integer"})
		return
	}

	block, ok := h.ledger.FindByHeight(c.Request.Context(), height)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	c.JSON(http.StatusOK, block)
}

// GetBlockByHash handles GET /block/hash/:hash. Returns a single block.
func (h *LedgerHandler) GetBlockByHash(c *gin.Context) {
	block, err := h.ledger.FindByHash(c.Request.Context(), c.Param("hash"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, block)
	case errors.Is(err, starledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
	default:
		h.logger.Error("block lookup by hash", zap.String("hash", c.Param("hash")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger integrity violation"})
	}
}
