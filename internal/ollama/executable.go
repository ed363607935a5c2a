// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveExecutable finds the ollama executable.
//
// Names containing a path separator are returned unchanged. Otherwise PATH is
// searched first, then the common installation directories. When nothing is
// found the name is returned as-is so that starting the process reports the
// lookup failure.
func ResolveExecutable(name string) string {
	if name == "" {
		name = "ollama"
	}
	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		return name
	}

	if path, err := exec.LookPath(name); err == nil {
		return path
	}

	for _, p := range installCandidates(name) {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return name
}

// installCandidates lists well-known install locations for name.
func installCandidates(name string) []string {
	if runtime.GOOS == "windows" {
		var paths []string
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			paths = append(paths, filepath.Join(local, "Programs", "Ollama", name+".exe"))
		}
		if pf := os.Getenv("ProgramFiles"); pf != "" {
			paths = append(paths, filepath.Join(pf, "Ollama", name+".exe"))
		}
		return paths
	}

	paths := []string{
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/usr/bin", name),
		filepath.Join("/opt/ollama", name),
	}

	// User home directory locations
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths,
			filepath.Join(home, ".local", "bin", name),
			filepath.Join(home, "bin", name),
		)
	}

	// macOS application bundle location
	if name == "ollama" {
		paths = append(paths, "/Applications/Ollama.app/Contents/Resources/ollama")
	}
	return paths
}
