// Package web embeds the dashboard pages served by the relay.
package web

import "embed"

//go:embed index.html share.html
var Assets embed.FS
