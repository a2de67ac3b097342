// Package migrations applies the embedded ledger schema to PostgreSQL and
// ClickHouse. Applied versions are recorded in a schema_migrations table in
// each database, so a rerun only applies what is missing.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed postgres/*.sql clickhouse/*.sql
var schemaFS embed.FS

const (
	dialectPostgres   = "postgres"
	dialectClickhouse = "clickhouse"
)

// Migration is one numbered schema file, e.g. 001_ledger.sql.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Load returns the embedded migrations of dialect ordered by version.
func Load(dialect string) ([]Migration, error) {
	paths, err := fs.Glob(schemaFS, dialect+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", dialect, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s migrations embedded", dialect)
	}

	seen := make(map[int]string, len(paths))
	migs := make([]Migration, 0, len(paths))
	for _, p := range paths {
		file := path.Base(p)
		version, name, err := parseFileName(file)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, prev, file)
		}
		seen[version] = file

		data, err := fs.ReadFile(schemaFS, p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts, err := splitStatements(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", file, err)
		}
		if len(stmts) == 0 {
			continue
		}
		migs = append(migs, Migration{Version: version, Name: name, Statements: stmts})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs, nil
}

// parseFileName splits "007_add_index.sql" into (7, "add_index").
func parseFileName(file string) (int, string, error) {
	stem, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", fmt.Errorf("migration %s: not an .sql file", file)
	}
	num, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: want <version>_<name>.sql", file)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: invalid version %q", file, num)
	}
	return version, name, nil
}

// splitStatements splits sql on semicolons that are outside single-quoted
// literals. Line comments are dropped. Both dialects execute the result one
// statement per Exec.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts    []string
		cur      strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inString:
			cur.WriteByte(c)
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
				} else {
					inString = false
				}
			}
		case c == '\'':
			inString = true
			cur.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if inString {
		return nil, errors.New("unterminated string literal")
	}
	flush()
	return stmts, nil
}
