// Package web embeds the single-page status UI served under /ui/.
package web

import "embed"

//go:embed index.html
var FS embed.FS
