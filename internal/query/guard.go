package query

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kyleking/finance-qa/internal/errors"
)

// Guard admits only single read-only statements.
type Guard struct {
	denied  map[string]bool
	lexings []lexing
}

// lexing is one way a database may read quoted text. Servers differ on
// backslash escapes (MySQL sql_mode, PostgreSQL standard_conforming_strings),
// so a statement must pass under every lexing its dialect allows.
type lexing struct {
	backslashEscapes bool
	escapeStrings    bool
	dollarQuotes     bool
}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// deniedKeywords covers writes, DDL, privilege changes, engine commands and
// the common file-reading table functions. DuckDB handles also have external
// access switched off when opened. INTO catches
// SELECT ... INTO and data-modifying CTEs are caught by their verbs.
var deniedKeywords = []string{
	"insert", "update", "delete", "merge", "upsert", "into",
	"drop", "alter", "create", "truncate",
	"grant", "revoke",
	"attach", "detach", "copy", "export", "import", "install", "load",
	"pragma", "call", "exec", "execute", "vacuum", "checkpoint",
	"read_csv", "read_csv_auto", "read_parquet", "read_json", "read_json_auto",
	"read_text", "read_blob", "read_ndjson", "read_ndjson_auto", "parquet_scan", "sniff_csv", "glob",
	"pg_read_file", "pg_read_binary_file", "pg_ls_dir", "load_file",
}

// NewGuard creates a guard with the default keyword deny-list for driver's
// SQL dialect.
func NewGuard(driver string) *Guard {
	denied := make(map[string]bool, len(deniedKeywords))
	for _, k := range deniedKeywords {
		denied[k] = true
	}

	var lexings []lexing

	if strings.EqualFold(driver, "mysql") {
		lexings = []lexing{{backslashEscapes: true}, {}}
	} else {
		for _, backslash := range []bool{false, true} {
			for _, estrings := range []bool{false, true} {
				for _, dollar := range []bool{false, true} {
					lexings = append(lexings, lexing{backslashEscapes: backslash, escapeStrings: estrings, dollarQuotes: dollar})
				}
			}
		}
	}

	return &Guard{denied: denied, lexings: lexings}
}

// Check returns a guard error unless sql is exactly one SELECT or WITH
// statement without write or administrative keywords. Keywords inside string
// literals, quoted identifiers and comments are ignored.
func (g *Guard) Check(sql string) error {
	for _, lex := range g.lexings {
		if err := g.checkCode(lex.stripLiteralsAndComments(sql)); err != nil {
			return err
		}
	}

	return nil
}

func (g *Guard) checkCode(code string) error {
	body := strings.TrimSpace(code)
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))

	if body == "" {
		return errors.New(errors.ErrTypeSQLGuard, "SQL statement is empty")
	}

	if strings.Contains(body, ";") {
		return errors.New(errors.ErrTypeSQLGuard, "multiple SQL statements are not allowed")
	}

	words := wordPattern.FindAllString(body, -1)
	if len(words) == 0 {
		return errors.New(errors.ErrTypeSQLGuard, "SQL statement has no keywords")
	}

	first := strings.ToLower(words[0])
	if first != "select" && first != "with" {
		return errors.Newf(errors.ErrTypeSQLGuard, "only SELECT statements are allowed, got %s", strings.ToUpper(first))
	}

	for _, w := range words[1:] {
		if g.denied[strings.ToLower(w)] {
			return errors.Newf(errors.ErrTypeSQLGuard, "SQL contains disallowed keyword: %s", strings.ToUpper(w))
		}
	}

	return nil
}

// stripLiteralsAndComments replaces string literals, quoted identifiers and
// comments with spaces, leaving the statement structure intact.
func (l lexing) stripLiteralsAndComments(sql string) string {
	var b strings.Builder

	b.Grow(len(sql))

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case r == '\'' || r == '"' || r == '`':
			quote := r
			escapes := (l.backslashEscapes && quote != '`') || (l.escapeStrings && quote == '\'' && escapeStringPrefix(runes, i))
			i++

			for i < len(runes) {
				if runes[i] == quote {
					// doubled quote is an escaped quote
					if i+1 < len(runes) && runes[i+1] == quote {
						i += 2
						continue
					}

					break
				}

				if runes[i] == '\\' && escapes {
					i++
				}

				i++
			}

			b.WriteRune(' ')
		case r == '$' && l.dollarQuotes && (i == 0 || !isIdentRune(runes[i-1])):
			tag, ok := dollarTag(runes, i)
			if !ok {
				b.WriteRune(r)
				continue
			}

			end := indexRunes(runes, i+len(tag), tag)
			if end < 0 {
				i = len(runes)
			} else {
				i = end + len(tag) - 1
			}

			b.WriteRune(' ')
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

			b.WriteRune('\n')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}

			i++
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// escapeStringPrefix reports whether the quote at i opens an E'...' string,
// which honours backslash escapes.
func escapeStringPrefix(runes []rune, i int) bool {
	if i == 0 || (runes[i-1] != 'E' && runes[i-1] != 'e') {
		return false
	}

	return i == 1 || !isIdentRune(runes[i-2])
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// dollarTag returns the opening delimiter ($$ or $name$) starting at i.
// Positional parameters such as $1 are not delimiters.
func dollarTag(runes []rune, i int) ([]rune, bool) {
	for j := i + 1; j < len(runes); j++ {
		r := runes[j]

		switch {
		case r == '$':
			return runes[i : j+1], true
		case r == '_' || unicode.IsLetter(r):
		case unicode.IsDigit(r) && j > i+1:
		default:
			return nil, false
		}
	}

	return nil, false
}

func indexRunes(runes []rune, from int, sub []rune) int {
	for i := from; i+len(sub) <= len(runes); i++ {
		match := true

		for j := range sub {
			if runes[i+j] != sub[j] {
				match = false
				break
			}
		}

		if match {
			return i
		}
	}

	return -1
}
