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
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrParticipantNotFound(1)
	wrapped := errors.Wrap(err, "failed to apply update")
	s.ErrorIs(wrapped, ErrParticipantNotFound)
	s.Equal(Code(ErrParticipantNotFound), Code(wrapped))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(errUnexpected.errCode, Code(errors.New("plain")))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newCoeditError("new error", ErrParticipantNotFound.errCode, false)
	s.True(sameCodeErr.Is(ErrParticipantNotFound))
}

func (s *ErrSuite) TestWrap() {
	s.ErrorIs(WrapErrServiceNotReady("hub", "starting"), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)
	s.ErrorIs(WrapErrParticipantNotFound(7, "late message"), ErrParticipantNotFound)
	s.ErrorIs(WrapErrMissingParticipantID(), ErrMissingParticipantID)
	s.ErrorIs(WrapErrMalformedMessage(errors.New("bad json")), ErrMalformedMessage)
	s.ErrorIs(WrapErrMalformedMessage(nil), ErrMalformedMessage)
	s.ErrorIs(WrapErrSessionClosed(3), ErrSessionClosed)
	s.ErrorIs(WrapErrSendQueueFull(3, 16), ErrSendQueueFull)
	s.ErrorIs(WrapErrConnectionLimit(10), ErrConnectionLimit)
	s.ErrorIs(WrapErrDialFailed("ws://localhost", errors.New("refused")), ErrDialFailed)
	s.ErrorIs(WrapErrUpgradeFailed(errors.New("bad handshake")), ErrUpgradeFailed)
	s.ErrorIs(WrapErrUpgradeFailed(nil), ErrUpgradeFailed)
	s.ErrorIs(WrapErrSessionDuplicate(3), ErrSessionDuplicate)
	s.ErrorIs(WrapErrParameterInvalid(">= 0", "-1"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidRange(0, 10, 11), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("id"), ErrParameterMissing)
}

func (s *ErrSuite) TestMessage() {
	err := WrapErrParticipantNotFound(42)
	s.Equal("participant not found[participant=42]", err.Error())

	err = WrapErrParameterInvalidRange(0, 10, 11)
	s.Equal("invalid parameter[11 out of range 0 <= value <= 10]", err.Error())
}

func (s *ErrSuite) TestRetryableAndType() {
	s.True(IsRetryableErr(WrapErrSendQueueFull(1, 8)))
	s.False(IsRetryableErr(WrapErrSessionClosed(1)))
	s.False(IsRetryableErr(errors.New("plain")))

	s.Equal(InputError, GetErrorType(WrapErrMalformedMessage(nil)))
	s.Equal(SystemError, GetErrorType(ErrServiceInternal))
	s.Equal("input_error", InputError.String())

	s.True(IsCanceledOrTimeout(errors.Wrap(context.Canceled, "stop")))
	s.False(IsCanceledOrTimeout(ErrSessionClosed))
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	s.Nil(Combine(nil, nil))
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrSessionClosed(10), WrapErrParticipantNotFound(1))
	s.Equal(Code(ErrParticipantNotFound), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
