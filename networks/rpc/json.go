// Copyright 2019 The klaytn Authors
// This file is part of the chainscope library.
//
// The chainscope library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chainscope library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chainscope library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

const vsn = "2.0"

// jsonrpcMessage is the on-wire shape of a JSON-RPC 2.0 request or response.
type jsonrpcMessage struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *jsonError      `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (msg *jsonrpcMessage) isNotification() bool {
	return msg.ID == nil && msg.Method != ""
}

type jsonError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (err *jsonError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("json-rpc error %d", err.Code)
	}
	return err.Message
}

// ErrorKind classifies failures so callers can decide whether to retry,
// drop the offending entry or give up.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindTransport
	ErrorKindDecode
	ErrorKindNodeReject
	ErrorKindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransport:
		return "transport"
	case ErrorKindDecode:
		return "decode"
	case ErrorKindNodeReject:
		return "node_rejected"
	case ErrorKindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is the classified error type returned by the client.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the error may succeed on a later attempt with
// the same arguments. Only transport and rate-limit failures qualify.
func (e *Error) Retryable() bool {
	return e.Kind == ErrorKindTransport || e.Kind == ErrorKindRateLimited
}

// KindOf extracts the classification of an error produced by this package.
func KindOf(err error) ErrorKind {
	if rerr, ok := err.(*Error); ok {
		return rerr.Kind
	}
	return ErrorKindUnknown
}

// IsRetryable reports whether err is a classified error worth retrying.
func IsRetryable(err error) bool {
	rerr, ok := err.(*Error)
	return ok && rerr.Retryable()
}

func transportError(err error) *Error {
	return &Error{Kind: ErrorKindTransport, Message: err.Error()}
}

func decodeError(err error) *Error {
	return &Error{Kind: ErrorKindDecode, Message: err.Error()}
}

// classifyNodeError maps a node error object onto the taxonomy. Nodes signal
// throttling either with the de-facto -32005 code or a message mentioning
// the limit.
func classifyNodeError(jerr *jsonError) *Error {
	kind := ErrorKindNodeReject
	if jerr.Code == -32005 || strings.Contains(strings.ToLower(jerr.Message), "rate limit") {
		kind = ErrorKindRateLimited
	}
	return &Error{Kind: kind, Code: jerr.Code, Message: jerr.Message}
}
