package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ageniuscoder/chatsync/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func Created(c *gin.Context, v any) {
	c.JSON(http.StatusCreated, v)
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func Err(c *gin.Context, code int, msg any) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// Fail maps err onto the error taxonomy and writes the matching response.
// Unclassified errors become a 500 without leaking their text.
func Fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		Err(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		Err(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		Err(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		Err(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConflict):
		Err(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		Err(c, http.StatusInternalServerError, "internal error")
	}
}

// BindErr reports a failed ShouldBind. Rule violations are a 422 with one
// entry per field; a body that cannot be decoded at all is a 400.
func BindErr(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		Err(c, http.StatusUnprocessableEntity, utils.ValidationErr(ve))
		return
	}
	Err(c, http.StatusBadRequest, err.Error())
}

// ParamID parses a positive integer path parameter. It writes a 404 and
// returns false when the value is not an id.
func ParamID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		Err(c, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}
