package service

import (
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

const errorDomain = "progress"

func errInvalidArgument(code, msg string, fieldViolations map[string]string) error {
	st := status.New(codes.InvalidArgument, msg)
	info := &errdetails.ErrorInfo{Reason: code, Domain: errorDomain}

	bad := &errdetails.BadRequest{}
	for field, desc := range fieldViolations {
		bad.FieldViolations = append(bad.FieldViolations, &errdetails.BadRequest_FieldViolation{Field: field, Description: desc})
	}

	st2, err := st.WithDetails(info, bad)
	if err != nil {
		return st.Err()
	}
	return st2.Err()
}

func errNotFound(code, msg string) error {
	return withInfo(codes.NotFound, code, msg)
}

func errPermissionDenied(code, msg string) error {
	return withInfo(codes.PermissionDenied, code, msg)
}

func errUnauthenticated(code, msg string) error {
	return withInfo(codes.Unauthenticated, code, msg)
}

// errUnavailable tells the caller when a retry makes sense.
func errUnavailable(code, msg string, retryAfter time.Duration) error {
	st := status.New(codes.Unavailable, msg)
	info := &errdetails.ErrorInfo{Reason: code, Domain: errorDomain}
	retry := &errdetails.RetryInfo{RetryDelay: durationpb.New(retryAfter)}
	st2, err := st.WithDetails(info, retry)
	if err != nil {
		return st.Err()
	}
	return st2.Err()
}

func withInfo(c codes.Code, code, msg string) error {
	st := status.New(c, msg)
	info := &errdetails.ErrorInfo{Reason: code, Domain: errorDomain}
	st2, err := st.WithDetails(info)
	if err != nil {
		return st.Err()
	}
	return st2.Err()
}

// Reason extracts the ErrorInfo reason of a status error, or "".
func Reason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}

// InvalidArgument builds the InvalidArgument status used for malformed requests
// by transports that parse their own input.
func InvalidArgument(code, msg string, fieldViolations map[string]string) error {
	return errInvalidArgument(code, msg, fieldViolations)
}
