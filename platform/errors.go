package platform

import "fmt"

// CallError is the shared shape of the platform call failures. Payload holds
// the raw response body when one was readable, so an operator can inspect
// what the platform actually said.
type CallError struct {
	Op      string // "upload", "apply", "persist", "poll"
	Status  int    // HTTP status, 0 when the request never completed
	Reason  string
	Payload []byte
	Err     error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("platform: %s: %s (http %d)", e.Op, e.Reason, e.Status)
	}
	return fmt.Sprintf("platform: %s: %s", e.Op, e.Reason)
}

func (e *CallError) Unwrap() error { return e.Err }

// UploadError reports a failed or unparseable upload response.
type UploadError struct{ CallError }

// ApplyError reports a failed apply-to-session call.
type ApplyError struct{ CallError }

// PersistError reports a failed shared-pointer update. The call is a pure
// overwrite of one field and is safe to retry with the same identifier.
type PersistError struct{ CallError }

// PollError reports a failed progress read.
type PollError struct{ CallError }

func uploadErr(status int, reason string, payload []byte, err error) *UploadError {
	return &UploadError{CallError{Op: "upload", Status: status, Reason: reason, Payload: payload, Err: err}}
}

func applyErr(status int, reason string, payload []byte, err error) *ApplyError {
	return &ApplyError{CallError{Op: "apply", Status: status, Reason: reason, Payload: payload, Err: err}}
}

func persistErr(status int, reason string, payload []byte, err error) *PersistError {
	return &PersistError{CallError{Op: "persist", Status: status, Reason: reason, Payload: payload, Err: err}}
}

func pollErr(status int, reason string, payload []byte, err error) *PollError {
	return &PollError{CallError{Op: "poll", Status: status, Reason: reason, Payload: payload, Err: err}}
}
