// Package migrations embeds the SQL schema applied by upacharctl.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
