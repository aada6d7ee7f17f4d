package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string             `json:"error"`
	Code   string             `json:"code"`
	Result *domain.SyncResult `json:"result,omitempty"`
}

// writeError maps err onto a status code and JSON body.
func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.JSON(status, body)
}

func errorResponse(err error) (int, errorBody) {
	var syncErr *domain.SyncError
	switch {
	case errors.As(err, &syncErr):
		return http.StatusInternalServerError, errorBody{Error: err.Error(), Code: syncErr.Code, Result: syncErr.Result}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_input"}
	case errors.Is(err, domain.ErrNotFound) && domain.KindOf(err) != domain.KindRemoteAPI:
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"}
	}

	code := domain.ErrorCode(err)
	switch domain.KindOf(err) {
	case domain.KindTransport, domain.KindRemoteAPI, domain.KindMalformed:
		return http.StatusBadGateway, errorBody{Error: err.Error(), Code: code}
	case domain.KindCancelled:
		return http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: code}
	default:
		return http.StatusInternalServerError, errorBody{Error: err.Error(), Code: code}
	}
}
