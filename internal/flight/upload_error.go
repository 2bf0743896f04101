package flight

// UploadError reports why a flight routine was refused or aborted, phrased
// for the operator. Error returns only the operator-facing message; the
// underlying vehicle failure, if any, stays reachable through Unwrap for
// logs and audit records.
type UploadError struct {
	Msg   string
	Cause error
}

func (e *UploadError) Error() string {
	return e.Msg
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}
