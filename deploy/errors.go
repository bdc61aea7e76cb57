package deploy

import "fmt"

// DiscoveryError means the workflow could not anchor itself to the right
// platform context: no active content identifier, no shared theme list, or
// no record matching the active identifier. Discovery failures abort before
// any write; operating from the wrong page context would make the
// subsequent writes destructive.
type DiscoveryError struct {
	Reason    string
	ActiveMD5 string
}

func (e *DiscoveryError) Error() string {
	if e.ActiveMD5 != "" {
		return fmt.Sprintf("deploy: discovery: %s (active md5 %s)", e.Reason, e.ActiveMD5)
	}
	return fmt.Sprintf("deploy: discovery: %s", e.Reason)
}

// StatePreconditionError means the discovered theme state is unusable,
// typically a missing variable set. Uploading with default variables would
// wipe the existing customization, so the workflow refuses to continue.
type StatePreconditionError struct {
	Reason string
}

func (e *StatePreconditionError) Error() string {
	return fmt.Sprintf("deploy: state precondition: %s", e.Reason)
}

// JobFailedError is a job that reached the failed terminal state.
type JobFailedError struct {
	Stage   string // "upload" or "apply"
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("deploy: %s job failed", e.Stage)
	}
	return fmt.Sprintf("deploy: %s job failed: %s", e.Stage, e.Message)
}

// TimeoutError is a polling budget exhausted without a terminal job state.
// Distinct from JobFailedError so operators can tell "gave up waiting" from
// "the platform said no".
type TimeoutError struct {
	Stage    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("deploy: %s timed out after %d polls", e.Stage, e.Attempts)
}
