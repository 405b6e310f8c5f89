// Command sqllint checks that every SQL statement in the tree starts with a
// unique "--sql <uuid>" marker, the tag SQLRunner logs for each statement.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}

	l := newLinter()
	for _, target := range targets {
		if err := l.walk(target); err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
	}

	violations := l.finish()
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "sqllint: SQL audit marker problems")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "  %s:%d %s (%s)\n", v.file, v.line, v.message, v.name)
		}
		os.Exit(1)
	}
}

func (l *linter) walk(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return l.lintPath(target)
	}
	return filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		return l.lintPath(path)
	})
}

func (l *linter) lintPath(path string) error {
	switch {
	case strings.HasSuffix(path, "_test.go"):
		return nil
	case filepath.Ext(path) == ".go":
		return l.lintGoFile(path)
	case filepath.Ext(path) == ".sql":
		return l.lintSQLFile(path)
	}
	return nil
}
