package errs

import "strconv"

// CodeError is the wire shape for API-visible failures. Only
// authentication failures ever reach a client; everything else is
// logged and swallowed.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	return "code=" + strconv.Itoa(e.Code) + " msg=" + e.Msg
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

var (
	ErrArgs         = NewCodeError(1001, "bad request args")
	ErrTokenInvalid = NewCodeError(1501, "token invalid")
	ErrTokenExpired = NewCodeError(1503, "token expired")
	ErrNoPermission = NewCodeError(1511, "no permission")
)
