package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pitstop/internal/middleware"
	"github.com/hitoshi/pitstop/internal/model"
)

// errCodeInvalidRequest はリクエストボディを解析できない場合のエラーコード。
const errCodeInvalidRequest = "INVALID_REQUEST"

func newInvalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     errCodeInvalidRequest,
		Message:  "I couldn't understand that request.",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは内部エラーとして扱い、詳細はログにだけ残す。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case errCodeInvalidRequest, model.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case model.ErrCodeConversationNotFound, model.ErrCodeVehicleNotFound, model.ErrCodeUnknownTool:
		return http.StatusNotFound
	case model.ErrCodeVehicleConflict, model.ErrCodeVehicleRequired, model.ErrCodeSessionRequired:
		return http.StatusConflict
	case model.ErrCodeProfileIncomplete, model.ErrCodeVINRequired:
		return http.StatusUnprocessableEntity
	case model.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
