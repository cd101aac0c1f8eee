// Package web embeds the overlay host page.
package web

import "embed"

//go:embed templates/*.html
var TemplateFiles embed.FS
