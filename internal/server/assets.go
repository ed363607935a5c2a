// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
)

//go:embed web
var webFS embed.FS

// loadAssets parses the page template and returns the static file tree.
func loadAssets() (*template.Template, fs.FS, error) {
	page, err := template.ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, nil, fmt.Errorf("parse page template: %w", err)
	}
	static, err := fs.Sub(webFS, "web/static")
	if err != nil {
		return nil, nil, fmt.Errorf("static assets: %w", err)
	}
	return page, static, nil
}
