package frontend

import "embed"

// Dist holds the web client served at the root of the base path.
//
//go:embed dist
var Dist embed.FS
