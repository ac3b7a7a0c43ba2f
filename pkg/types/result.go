package types

import (
	"encoding/json"
	"errors"
)

// Result is the tagged outcome of one tool invocation. Exactly one of Data
// or Error/Code is meaningful, selected by Success.
type Result struct {
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    ErrorCode      `json:"code,omitempty"`
	Success bool           `json:"success"`
}

// Ok builds a success result. A nil map becomes an empty object.
func Ok(data map[string]any) *Result {
	if data == nil {
		data = map[string]any{}
	}
	return &Result{Success: true, Data: data}
}

// Fail builds a failure result.
func Fail(code ErrorCode, message string) *Result {
	return &Result{Success: false, Error: message, Code: code}
}

// FromError normalizes any error into a failure result. Errors without a
// code become CodeUnknown.
func FromError(err error) *Result {
	if err == nil {
		return Ok(nil)
	}
	var coded *Error
	if errors.As(err, &coded) {
		return Fail(coded.Code, err.Error())
	}
	return Fail(CodeUnknown, err.Error())
}

// MarshalJSON always emits data on success, even when empty.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Success {
		data := r.Data
		if data == nil {
			data = map[string]any{}
		}
		return json.Marshal(struct {
			Success bool           `json:"success"`
			Data    map[string]any `json:"data"`
		}{true, data})
	}
	return json.Marshal(struct {
		Success bool      `json:"success"`
		Error   string    `json:"error"`
		Code    ErrorCode `json:"code"`
	}{false, r.Error, r.Code})
}
