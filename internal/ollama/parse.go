// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"sort"
	"strings"
)

// ParseModelList extracts model identifiers from `ollama list` output.
//
// The first line is a column header and is skipped. Each remaining non-blank
// line contributes its first whitespace-delimited field. The result is sorted
// and contains no duplicates; it is never nil.
func ParseModelList(output string) []string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return []string{}
	}

	seen := make(map[string]struct{}, len(lines)-1)
	models := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if _, dup := seen[fields[0]]; dup {
			continue
		}
		seen[fields[0]] = struct{}{}
		models = append(models, fields[0])
	}

	sort.Strings(models)
	return models
}
