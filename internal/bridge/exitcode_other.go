// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !unix

package bridge

import "os/exec"

// exitCode returns the process exit status.
func exitCode(err *exec.ExitError) int {
	return err.ExitCode()
}
