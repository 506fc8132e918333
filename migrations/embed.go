// Package migrations holds the relay schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
