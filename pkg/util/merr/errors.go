// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// 叶子错误统一定义在这里。
// 新增前先确认下面已有的错误是否可以复用。
// 命名：Err + 相关前缀 + 错误名
var (
	// Service related
	ErrServiceNotReady    = newCoeditError("service not ready", 1, true)
	ErrServiceUnavailable = newCoeditError("service unavailable", 2, true)
	ErrServiceInternal    = newCoeditError("service internal error", 5, false)

	// Participant related
	ErrParticipantNotFound  = newCoeditError("participant not found", 100, false)
	ErrMissingParticipantID = newCoeditError("missing participant id", 101, false, WithErrorType(InputError))

	// Message related
	ErrMalformedMessage = newCoeditError("malformed message", 200, false, WithErrorType(InputError))

	// Session / transport related
	ErrSessionClosed    = newCoeditError("session closed", 300, false)
	ErrSendQueueFull    = newCoeditError("send queue is full", 301, true)
	ErrConnectionLimit  = newCoeditError("connection limit reached", 302, true)
	ErrDialFailed       = newCoeditError("dial failed", 303, true)
	ErrUpgradeFailed    = newCoeditError("websocket upgrade failed", 304, false)
	ErrSessionDuplicate = newCoeditError("session id already registered", 305, false)

	// Parameter related
	ErrParameterInvalid = newCoeditError("invalid parameter", 1100, false, WithErrorType(InputError))
	ErrParameterMissing = newCoeditError("missing parameter", 1101, false, WithErrorType(InputError))

	// General
	ErrOperationNotSupported = newCoeditError("unsupported operation", 3000, false)

	// 不导出：仅用于把未知错误转换成 coeditError。
	errUnexpected = newCoeditError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*coeditError)

func WithDetail(detail string) errorOption {
	return func(err *coeditError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *coeditError) {
		err.errType = etype
	}
}

type coeditError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newCoeditError(msg string, code int32, retriable bool, options ...errorOption) coeditError {
	err := coeditError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e coeditError) code() int32 {
	return e.errCode
}

func (e coeditError) Error() string {
	return e.msg
}

func (e coeditError) Detail() string {
	return e.detail
}

func (e coeditError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(coeditError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// 多错误的 cause 定义为最后一个错误，Code 依赖这一点。
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

// Combine 合并多个错误，nil 会被忽略；全部为 nil 时返回 nil。
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
