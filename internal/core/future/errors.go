package future

import "errors"

var (
	// ErrUnexpectedResponse 应答类型既不是 OK 也不是 NotOK
	ErrUnexpectedResponse = errors.New("unexpected response type")
)
