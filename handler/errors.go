package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"vision-agent/internal/usecase"
)

const analyzeFailed = "Failed to analyze image"

type errorResponse struct {
	Error string `json:"error"`
	// Analysis is set on analyze failures so clients can render a placeholder.
	Analysis string `json:"analysis,omitempty"`
}

// handleError renders every failure, including routing errors, as the JSON
// error envelope.
func (h *Handler) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, message := h.describeError(err, c)
	body := errorResponse{Error: message}
	if c.Path() == "/api/analyze" {
		body.Analysis = analyzeFailed
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		h.logger.Error("failed to write error response", "err", writeErr)
	}
}

func (h *Handler) describeError(err error, c echo.Context) (int, string) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		status := statusFor(ucErr.Code)
		if status >= http.StatusInternalServerError {
			h.logger.Error("request error",
				"request_id", requestID(c),
				"code", ucErr.Code,
				"reason", ucErr.Reason,
				"err", ucErr.Err,
			)
		}
		return status, messageFor(ucErr)
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if msg, ok := httpErr.Message.(string); ok {
			return httpErr.Code, msg
		}
		return httpErr.Code, http.StatusText(httpErr.Code)
	}

	h.logger.Error("unexpected error", "request_id", requestID(c), "err", err)
	return http.StatusInternalServerError, internalMessage(c)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorServiceUnavailable:
		return http.StatusServiceUnavailable
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(e *usecase.Error) string {
	switch e.Reason {
	case "empty_image":
		return "No image file provided"
	case "image_too_large":
		return "Image exceeds the maximum upload size"
	case "unreadable_image":
		return "Uploaded image could not be read"
	case "invalid_memory_type":
		return "Unknown memory type, expected buffer or summary"
	case "invalid_body":
		return "Request body could not be parsed"
	case "session_not_found":
		return "Session not found"
	case "inference_not_configured":
		return "Vision service is currently unavailable. Please try again later."
	case "inference_timeout":
		return "Vision service did not respond in time"
	case "inference_rate_limited":
		return "Vision service is rate limiting requests. Please try again shortly."
	}
	switch e.Code {
	case usecase.ErrorInvalidInput:
		return "Invalid request"
	case usecase.ErrorNotFound:
		return "Not found"
	case usecase.ErrorServiceUnavailable:
		return "Service unavailable"
	case usecase.ErrorUpstream:
		return "Error communicating with vision service"
	default:
		return "An unexpected error occurred"
	}
}

func internalMessage(c echo.Context) string {
	if id := requestID(c); id != "" {
		return fmt.Sprintf("An unexpected error occurred (request %s)", id)
	}
	return "An unexpected error occurred"
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
