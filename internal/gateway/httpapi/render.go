package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

// fail renders a domain error as its taxonomy entry and status code.
func fail(c *gin.Context, err error) {
	e := apperr.From(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(e.Code), e)
}

// badRequest renders a body-binding failure.
func badRequest(c *gin.Context, err error) {
	fail(c, apperr.Invalidf("invalid request body: %v", err))
}
