// Package migrations embeds the schema files applied by the migrate command.
package migrations

import (
	"embed"
	"strings"
)

//go:embed mysql/*.sql clickhouse/*.sql
var FS embed.FS

// Statements splits a schema file on ";" line endings and drops comments and
// blanks. The files contain no procedures or string literals with semicolons.
func Statements(src string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";")
			if stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
