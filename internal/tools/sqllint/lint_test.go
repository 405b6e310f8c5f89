package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLintReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "queries.go", "package q\n\n"+
		"const QGood = `--sql 11111111-2222-4333-8444-555555555555\nselect 1`\n"+
		"const QMissing = `select id from video_jobs`\n"+
		"const QDup = `--sql 11111111-2222-4333-8444-555555555555\nupdate video_jobs set title = ''`\n"+
		"const Label = \"selection complete\"\n")
	writeFile(t, dir, "schema.sql", "create table t (id int);\n")
	writeFile(t, dir, "_skip/ignored.go", "package x\nconst Q = `select 1`\n")
	writeFile(t, dir, "queries_test.go", "package q\nconst QTest = `select 2`\n")

	l := newLinter()
	if err := l.walk(dir); err != nil {
		t.Fatalf("walk: %v", err)
	}
	got := l.finish()

	var msgs []string
	for _, v := range got {
		msgs = append(msgs, filepath.Base(v.file)+":"+v.name+":"+v.message)
	}
	want := []string{
		"queries.go:QGood:duplicate marker 11111111-2222-4333-8444-555555555555",
		"queries.go:QMissing:missing or invalid --sql <uuid> marker",
		"queries.go:QDup:duplicate marker 11111111-2222-4333-8444-555555555555",
		"schema.sql:file:missing or invalid --sql <uuid> marker",
	}
	if strings.Join(msgs, "\n") != strings.Join(want, "\n") {
		t.Fatalf("violations:\n%s\nwant:\n%s", strings.Join(msgs, "\n"), strings.Join(want, "\n"))
	}
}

func TestLintAcceptsMarkedSQLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "schema.sql", "--sql 44f49920-b75c-4664-b1e6-0f69ac8bc363\ncreate table t (id int);\n")
	l := newLinter()
	if err := l.lintPath(path); err != nil {
		t.Fatal(err)
	}
	if v := l.finish(); len(v) != 0 {
		t.Fatalf("unexpected violations %+v", v)
	}
}

func TestLooksLikeSQL(t *testing.T) {
	cases := map[string]bool{
		"select 1":                    true,
		"  WITH x as (select 1)":      true,
		"-- note\ninsert into t":      true,
		"selection complete":          false,
		"please update your settings": false,
		"--sql abc\nselect 1":         true,
	}
	for in, want := range cases {
		if got := looksLikeSQL(in); got != want {
			t.Errorf("looksLikeSQL(%q) = %v, want %v", in, got, want)
		}
	}
}
