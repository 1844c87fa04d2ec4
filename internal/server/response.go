package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// Response is the envelope of every API answer
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind    string              `json:"kind"`
	Message string              `json:"message"`
	Fields  []errors.FieldError `json:"fields,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func errorBody(err error) (int, *ErrorBody) {
	status := errors.HTTPStatus(err)
	var e *errors.Error
	if !errors.As(err, &e) || status == http.StatusInternalServerError {
		return status, &ErrorBody{Kind: errors.KindOf(err), Message: "internal server error"}
	}
	return status, &ErrorBody{Kind: e.Kind, Message: e.Message, Fields: e.Fields}
}

// writeError answers with the mapped status. Internal details are logged, not returned.
func (s *Server) writeError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, Response{Success: false, Error: body})
}

func abortWithError(c *gin.Context, err error) {
	status, body := errorBody(err)
	c.AbortWithStatusJSON(status, Response{Success: false, Error: body})
}
