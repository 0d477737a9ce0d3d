package xerr

import (
	"errors"
	"fmt"
)

// 错误码定义
const (
	OK              = 0
	ConnectError    = 1001 // dial / handshake failed
	SendError       = 1002 // write on an established connection failed
	ParseError      = 1003 // frame does not match the expected shape
	InvalidArgument = 1004
	Closed          = 1005 // operation on a closed client
)

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Cause error  `json:"-"`
}

func (e *CodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.Cause }

// Is matches any *CodeError carrying the same code, so sentinel values built
// with NewErrCode work with errors.Is.
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	return ok && t.Code == e.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap attaches a code and message to cause. A nil cause yields nil.
func Wrap(cause error, code int, msg string) error {
	if cause == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, Cause: cause}
}

// CodeOf returns the code of the outermost *CodeError in err's chain, or OK.
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return OK
}

func IsCode(err error, code int) bool {
	return err != nil && CodeOf(err) == code
}

func MapErrMsg(code int) string {
	switch code {
	case ConnectError:
		return "connect failed"
	case SendError:
		return "send failed"
	case ParseError:
		return "unexpected frame shape"
	case InvalidArgument:
		return "invalid argument"
	case Closed:
		return "client closed"
	default:
		return "unknown error"
	}
}
