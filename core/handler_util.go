package core

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondAuthError maps auth service errors onto the JSON error envelope.
func respondAuthError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Message)
	case errors.Is(err, ErrUsernameTaken):
		respondError(c, http.StatusConflict, "USERNAME_TAKEN", MsgUsernameTaken)
	case errors.Is(err, ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", MsgInvalidCredentials)
	case errors.Is(err, ErrUnauthenticated):
		respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", MsgLoginRequired)
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", MsgGenericFailure)
	}
}
