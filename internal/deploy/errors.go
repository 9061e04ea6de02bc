package deploy

import (
	"fmt"
	"strings"
)

// TransferError reports a jar that could not be written. Index is -1 when
// the failure concerns the staging directory rather than one jar.
type TransferError struct {
	Index    int
	Filename string
	Dest     string

	// Written lists jars already in place; they are not rolled back.
	Written []string

	Err error
}

func (e *TransferError) Error() string {
	var msg string
	if e.Index < 0 {
		msg = fmt.Sprintf("failed to transfer jars to %s: %v", e.Dest, e.Err)
	} else {
		msg = fmt.Sprintf("failed to transfer jarFiles[%d] (%s) to %s: %v", e.Index, e.Filename, e.Dest, e.Err)
	}
	if len(e.Written) > 0 {
		msg += fmt.Sprintf("; already written and not rolled back: %s", strings.Join(e.Written, ", "))
	}
	return msg
}

func (e *TransferError) Unwrap() error { return e.Err }

// RestartError reports a failed stop or start command after the jars were
// written. The files on disk and the running node may now disagree.
type RestartError struct {
	Step     string
	Cmd      string
	Dir      string
	Deployed []string
	Err      error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("contract jars [%s] were written to %s but the node did not reload: %s command %q failed: %v",
		strings.Join(e.Deployed, ", "), e.Dir, e.Step, e.Cmd, e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }
