package backup

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type recordedCommand struct {
	name string
	args []string
	env  []string
}

func recorder(cmds *[]recordedCommand) CommandRunner {
	return func(ctx context.Context, name string, args, env []string) error {
		*cmds = append(*cmds, recordedCommand{name: name, args: args, env: env})
		return nil
	}
}

func TestSQLiteDumper(t *testing.T) {
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "source.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT); INSERT INTO users (email) VALUES ('a@example.com');")
	require.NoError(t, err)

	target := filepath.Join(dir, "it's a backup.sqlite")
	require.NoError(t, SQLiteDumper{DB: db}.Dump(context.Background(), target))

	copyDB, err := sql.Open("sqlite", target)
	require.NoError(t, err)
	defer copyDB.Close()

	var count int
	require.NoError(t, copyDB.QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	assert.Equal(t, 1, count)
	assert.Equal(t, ".sqlite", SQLiteDumper{}.Extension())
}

func TestPostgresDumper(t *testing.T) {
	var cmds []recordedCommand
	d := PostgresDumper{DSN: "postgres://u:p@db:5432/app?sslmode=disable", Run: recorder(&cmds)}

	require.NoError(t, d.Dump(context.Background(), "/tmp/out.dump"))
	require.Len(t, cmds, 1)
	assert.Equal(t, "pg_dump", cmds[0].name)
	assert.Contains(t, cmds[0].args, "--format=custom")
	assert.Contains(t, cmds[0].args, "--file=/tmp/out.dump")
	assert.Contains(t, cmds[0].args, "--dbname=postgres://u:p@db:5432/app?sslmode=disable")
	assert.Equal(t, ".dump", d.Extension())
}

func TestMySQLDumper(t *testing.T) {
	var cmds []recordedCommand
	d := MySQLDumper{DSN: "app:secret@tcp(db.internal:3307)/orders?parseTime=true", Binary: "/usr/bin/mysqldump", Run: recorder(&cmds)}

	require.NoError(t, d.Dump(context.Background(), "/tmp/out.sql"))
	require.Len(t, cmds, 1)
	c := cmds[0]
	assert.Equal(t, "/usr/bin/mysqldump", c.name)
	assert.Contains(t, c.args, "--user=app")
	assert.Contains(t, c.args, "--host=db.internal")
	assert.Contains(t, c.args, "--port=3307")
	assert.Contains(t, c.args, "--result-file=/tmp/out.sql")
	assert.Equal(t, "orders", c.args[len(c.args)-1])
	assert.Equal(t, []string{"MYSQL_PWD=secret"}, c.env)
	for _, a := range c.args {
		assert.NotContains(t, a, "secret")
	}
	assert.Equal(t, ".sql", d.Extension())
}

func TestMySQLDumper_Socket(t *testing.T) {
	var cmds []recordedCommand
	d := MySQLDumper{DSN: "root@unix(/var/run/mysqld.sock)/app", Run: recorder(&cmds)}

	require.NoError(t, d.Dump(context.Background(), "/tmp/out.sql"))
	assert.Contains(t, cmds[0].args, "--socket=/var/run/mysqld.sock")
	assert.Empty(t, cmds[0].env)
}

func TestMySQLDumper_InvalidDSN(t *testing.T) {
	var cmds []recordedCommand
	assert.Error(t, MySQLDumper{DSN: "root@tcp(db:3306)/", Run: recorder(&cmds)}.Dump(context.Background(), "/tmp/x"))
	assert.Empty(t, cmds)
}

func TestExecRunner_ReportsFailure(t *testing.T) {
	err := ExecRunner(context.Background(), "definitely-not-a-real-binary-xyz", nil, nil)
	assert.Error(t, err)
}
