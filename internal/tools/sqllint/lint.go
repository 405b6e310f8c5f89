package main

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)^\s*(--[^\n]*\n\s*)*(select|insert|update|delete|with|create|alter)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type site struct {
	file string
	name string
	line int
}

type linter struct {
	violations []violation
	markers    map[string][]site
}

func newLinter() *linter {
	return &linter{markers: make(map[string][]site)}
}

// check records a violation for a missing marker or remembers the marker
// for the duplicate pass.
func (l *linter) check(s site, body string) {
	marker := firstLine(body)
	if !uuidMarkerPattern.MatchString(marker) {
		l.violations = append(l.violations, violation{file: s.file, name: s.name, line: s.line, message: "missing or invalid --sql <uuid> marker"})
		return
	}
	l.markers[marker] = append(l.markers[marker], s)
}

// finish reports markers shared by more than one statement and returns all
// violations in file order.
func (l *linter) finish() []violation {
	for marker, sites := range l.markers {
		if len(sites) < 2 {
			continue
		}
		for _, s := range sites {
			l.violations = append(l.violations, violation{file: s.file, name: s.name, line: s.line, message: "duplicate marker " + strings.TrimPrefix(marker, "--sql ")})
		}
	}
	sort.Slice(l.violations, func(i, j int) bool {
		a, b := l.violations[i], l.violations[j]
		if a.file != b.file {
			return a.file < b.file
		}
		return a.line < b.line
	})
	return l.violations
}

func (l *linter) lintGoFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !looksLikeSQL(raw) {
				continue
			}
			l.check(site{file: path, name: joinNames(vs.Names), line: fset.Position(bl.Pos()).Line}, raw)
		}
		return true
	})
	return nil
}

func (l *linter) lintSQLFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil
	}
	l.check(site{file: path, name: "file", line: 1}, string(raw))
	return nil
}

// looksLikeSQL matches strings whose first statement keyword, after any
// leading comment lines, is a SQL verb.
func looksLikeSQL(s string) bool {
	return sqlKeywordPattern.MatchString(s)
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
