package resources

import "embed"

//go:embed migrations gatekeeper
var FS embed.FS
