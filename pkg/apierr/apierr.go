// Package apierr provides structured API error types and HTTP status mapping
// for the proxy frontend's JSON error envelope.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeUpstreamError  = "upstream_error"
	TypeRateLimitError = "rate_limit_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeServerError    = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInternalError     = "internal_error"
	CodeUpstreamError     = "upstream_error"
	CodeRequestTimeout    = "request_timeout"
	CodeUnknownService    = "unknown_service"
	CodeNoRoute           = "no_route"
	CodeInvalidRequest    = "invalid_request"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteUnknownService writes a 404 for a request naming no configured service.
func WriteUnknownService(ctx *fasthttp.RequestCtx, service string) {
	Write(ctx, fasthttp.StatusNotFound, "unknown service: "+service, TypeInvalidRequest, CodeUnknownService)
}

// WriteNoRoute writes a 503 when no upstream can currently reach the service.
func WriteNoRoute(ctx *fasthttp.RequestCtx, service string) {
	Write(ctx, fasthttp.StatusServiceUnavailable, "no route to service: "+service, TypeUpstreamError, CodeNoRoute)
}

// WriteUpstreamError writes a 502 after every forward attempt failed.
func WriteUpstreamError(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusBadGateway, msg, TypeUpstreamError, CodeUpstreamError)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "upstream request timed out", TypeUpstreamError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}
