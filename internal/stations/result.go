package stations

import "fmt"

// Code classifies a failed Result for transports that need a status.
type Code int

const (
	CodeOK Code = iota
	CodeNotFound
	CodeConflict
	CodeInvalid
	CodeInternal
)

// Result is the outcome of a mutating operation. Operations never return
// errors; failures are described by Error.
type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Count   int    `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    Code   `json:"-"`
}

func ok(id string) Result {
	return Result{Success: true, ID: id}
}

func failed(code Code, format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...), Code: code}
}
