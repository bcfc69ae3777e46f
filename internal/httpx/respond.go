package httpx

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/storefront-labs/checkout/internal/apperr"
)

// Error writes err with the status from the apperr taxonomy. Unclassified
// errors are logged with full context and hidden behind a 500.
func Error(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("[http] unhandled error")
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}
