package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeError(c *gin.Context, status int, kind, message string, retryable bool) {
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{
		Kind:      kind,
		Message:   message,
		Retryable: retryable,
	}})
}

// writeToolError maps a classified tool error onto the HTTP surface.
func writeToolError(c *gin.Context, err error) {
	te := tools.AsToolError(err)
	status := http.StatusInternalServerError
	retryable := false
	switch te.Kind {
	case tools.KindValidation:
		status = http.StatusBadRequest
	case tools.KindNotFound:
		status = http.StatusNotFound
	case tools.KindUnauthorized:
		status = http.StatusUnauthorized
	case tools.KindThrottled:
		status = http.StatusTooManyRequests
		retryable = true
	case tools.KindTimeout:
		status = http.StatusGatewayTimeout
		retryable = true
	case tools.KindUpstream:
		retryable = true
	}
	writeError(c, status, string(te.Kind), te.Message, retryable)
}
