// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Human readable messages carried by Error.
const (
	MsgServerError = "server error"
	MsgNoResponse  = "server unavailable, check your internet connection"
	MsgRequest     = "error performing the request"
	MsgMalformed   = "malformed response from server"
)

// ErrorKind tells where a call failed.
type ErrorKind int

const (
	// KindResponse the server answered with an error (or an undecodable body).
	KindResponse ErrorKind = iota
	// KindNoResponse the request was sent but no response arrived.
	KindNoResponse
	// KindRequest the request could not be built.
	KindRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindNoResponse:
		return "no-response"
	case KindRequest:
		return "request"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the single error type returned by Client. Error() is the message
// meant for end users; the cause is available through Unwrap.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNoResponse reports whether err is a transport error without a server response.
func IsNoResponse(err error) bool {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Kind == KindNoResponse
	}

	return false
}

// IsResponse reports whether err carries a server reply, including a reply
// that could not be decoded.
func IsResponse(err error) bool {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Kind == KindResponse
	}

	return false
}

// IsTimeout reports whether err was caused by the per-call deadline.
func IsTimeout(err error) bool {
	return IsNoResponse(err) && errors.Is(err, context.DeadlineExceeded)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.StatusCode
	}

	return 0
}

func requestError(err error) *Error {
	return &Error{Kind: KindRequest, Message: MsgRequest, Err: err}
}

func noResponseError(err error) *Error {
	return &Error{Kind: KindNoResponse, Message: MsgNoResponse, Err: err}
}

func malformedError(statusCode int, err error) *Error {
	return &Error{Kind: KindResponse, StatusCode: statusCode, Message: MsgMalformed, Err: err}
}

// responseError builds the error for a non-2xx answer, using the body's
// detail or message field when there is one.
func responseError(statusCode int, body []byte) *Error {
	msg := errorMessage(body)
	if msg == "" {
		msg = MsgServerError
	}

	return &Error{
		Kind:       KindResponse,
		StatusCode: statusCode,
		Message:    msg,
		Err:        fmt.Errorf("gateway returned status %d", statusCode),
	}
}

// errorMessage extracts detail or message from an error body. detail may be a
// string or a list of validation errors with a msg field.
func errorMessage(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil && s != "" {
			return s
		}

		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}

			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}

	return payload.Message
}
