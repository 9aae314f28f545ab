// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"fmt"
	"os"
	"runtime/debug"
)

// This output is shown if a panic happens.
const panicOutput = `
!!!!!!!!!!!!!!!!!!!!!!!!!!! LOCALCLOUD CRASH !!!!!!!!!!!!!!!!!!!!!!!!!!!!

localcloud crashed! This is always indicative of a bug within localcloud.
Please report the crash with the details below so that we can fix it.

When reporting bugs, please include your localcloud version and the stack
trace shown below.

!!!!!!!!!!!!!!!!!!!!!!!!!!! LOCALCLOUD CRASH !!!!!!!!!!!!!!!!!!!!!!!!!!!!
`

// PanicHandler is called to recover from an internal panic in the main
// goroutine, and augments the standard stack trace with a more
// user-friendly error message.
func PanicHandler() {
	recovered := recover()
	if recovered == nil {
		return
	}

	fmt.Fprint(os.Stderr, panicOutput)
	fmt.Fprintf(os.Stderr, "%v\n\n", recovered)
	fmt.Fprint(os.Stderr, string(debug.Stack()))
	os.Exit(2)
}
