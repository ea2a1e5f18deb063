package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yokeflow/yokeflow/pkg/store"
)

// ErrorResponse is the uniform error body: a human-readable message plus a
// stable kind clients can switch on.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps store and orchestrator errors to HTTP responses. Sentinel
// wrapping done at the source carries the entity name, so the message is
// safe to return as-is; anything unrecognized is logged and hidden behind a
// generic 500.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "validation"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: "conflict"})
	default:
		s.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Kind: "internal"})
	}
}

// badRequest rejects malformed input before it reaches the orchestrator or
// store.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Kind: "validation"})
}
