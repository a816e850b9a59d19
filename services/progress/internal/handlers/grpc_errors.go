package handlers

import (
	"net/http"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/learning-platform/internal/platform/api"
)

// statusHTTP covers the codes the service layer returns. Anything else is a 500.
var statusHTTP = map[codes.Code]int{
	codes.InvalidArgument:   http.StatusBadRequest,
	codes.Unauthenticated:   http.StatusUnauthorized,
	codes.PermissionDenied:  http.StatusForbidden,
	codes.NotFound:          http.StatusNotFound,
	codes.AlreadyExists:     http.StatusConflict,
	codes.ResourceExhausted: http.StatusTooManyRequests,
	codes.Unavailable:       http.StatusServiceUnavailable,
}

// statusDetails is what the JSON envelope needs from a status' details.
type statusDetails struct {
	reason     string
	fields     map[string]any
	retryAfter time.Duration
}

func detailsOf(st *status.Status) statusDetails {
	out := statusDetails{reason: "INTERNAL"}
	for _, d := range st.Details() {
		switch v := d.(type) {
		case *errdetails.ErrorInfo:
			if v.GetReason() != "" {
				out.reason = v.GetReason()
			}
		case *errdetails.BadRequest:
			for _, fv := range v.GetFieldViolations() {
				if fv.GetField() == "" {
					continue
				}
				if out.fields == nil {
					out.fields = map[string]any{}
				}
				out.fields[fv.GetField()] = fv.GetDescription()
			}
		case *errdetails.RetryInfo:
			out.retryAfter = v.GetRetryDelay().AsDuration()
		}
	}
	return out
}

// writeGRPCError renders a service status as the JSON error envelope.
func writeGRPCError(w http.ResponseWriter, requestID string, err error) {
	st, ok := status.FromError(err)
	if !ok {
		api.Internal(w, requestID)
		return
	}
	code, known := statusHTTP[st.Code()]
	if !known {
		api.Internal(w, requestID)
		return
	}

	d := detailsOf(st)
	switch code {
	case http.StatusTooManyRequests:
		api.RateLimited(w, d.reason, st.Message(), requestID, d.retryAfter)
	case http.StatusServiceUnavailable:
		api.Unavailable(w, d.reason, st.Message(), requestID, d.retryAfter)
	default:
		api.WriteError(w, code, d.reason, st.Message(), requestID, d.fields)
	}
}
