package sqlsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "empty body",
			body: "  \n\t",
			want: nil,
		},
		{
			name: "single statement without terminator",
			body: "CREATE TABLE users (id INT)",
			want: []string{"CREATE TABLE users (id INT)"},
		},
		{
			name: "multiple statements",
			body: "CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);\n",
			want: []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"},
		},
		{
			name: "semicolon inside string literal",
			body: "INSERT INTO t VALUES ('a;b');INSERT INTO t VALUES ('it''s')",
			want: []string{"INSERT INTO t VALUES ('a;b')", "INSERT INTO t VALUES ('it''s')"},
		},
		{
			name: "semicolon inside comments",
			body: "-- drop; everything\nSELECT 1; /* a; b */ SELECT 2;",
			want: []string{"-- drop; everything\nSELECT 1", "/* a; b */ SELECT 2"},
		},
		{
			name: "comment-only statement is dropped",
			body: "SELECT 1;\n-- trailing note\n",
			want: []string{"SELECT 1"},
		},
		{
			name: "dollar quoted function body",
			body: "CREATE FUNCTION f() RETURNS void AS $$ BEGIN PERFORM 1; END; $$ LANGUAGE plpgsql;SELECT 1;",
			want: []string{
				"CREATE FUNCTION f() RETURNS void AS $$ BEGIN PERFORM 1; END; $$ LANGUAGE plpgsql",
				"SELECT 1",
			},
		},
		{
			name: "tagged dollar quote",
			body: "DO $body$ BEGIN RAISE NOTICE 'x;'; END $body$;",
			want: []string{"DO $body$ BEGIN RAISE NOTICE 'x;'; END $body$"},
		},
		{
			name: "positional placeholders are not dollar quotes",
			body: "UPDATE t SET a = $1; UPDATE t SET b = $2;",
			want: []string{"UPDATE t SET a = $1", "UPDATE t SET b = $2"},
		},
		{
			name: "quoted identifiers",
			body: "CREATE TABLE \"odd;name\" (id INT); CREATE TABLE `other;name` (id INT);",
			want: []string{"CREATE TABLE \"odd;name\" (id INT)", "CREATE TABLE `other;name` (id INT)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.body))
		})
	}
}
