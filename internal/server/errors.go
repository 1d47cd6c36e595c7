package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gw/options-chain/internal/gateway"
	"github.com/gw/options-chain/internal/orders"
)

// errorCode maps a domain error to its HTTP status and short name.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrRollbackIncomplete):
		return http.StatusInternalServerError, "RollbackIncomplete"
	case errors.Is(err, gateway.ErrNotConnected):
		return http.StatusServiceUnavailable, "NotConnected"
	case errors.Is(err, orders.ErrInvalidContract):
		return http.StatusUnprocessableEntity, "InvalidContract"
	case errors.Is(err, orders.ErrUnsupportedOrderType):
		return http.StatusBadRequest, "UnsupportedOrderType"
	case errors.Is(err, orders.ErrInvalidOrder):
		return http.StatusBadRequest, "InvalidOrder"
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, "OrderNotFound"
	case errors.Is(err, orders.ErrOrderFinal):
		return http.StatusConflict, "OrderFinal"
	case errors.Is(err, gateway.ErrGatewayTimeout):
		return http.StatusGatewayTimeout, "GatewayTimeout"
	}
	return http.StatusInternalServerError, "Internal"
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) fail(c *gin.Context, err error) {
	code, name := errorCode(err)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		s.log.Errorw("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(code, errorBody{Error: name, Message: err.Error()})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "InvalidOrder", Message: msg})
}
