// Package chatcore holds the embedded migrations root, grounded on the
// teacher's root-level embed of its migrations directory (consumed from
// cmd/bot/main.go as mindapproot.MigrationsFS).
package chatcore

import "embed"

//go:embed migrations/*.sql
var MigrationsFS embed.FS
