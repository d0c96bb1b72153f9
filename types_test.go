package migrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Constants(t *testing.T) {
	assert.Equal(t, Status("pending"), StatusPending)
	assert.Equal(t, Status("running"), StatusRunning)
	assert.Equal(t, Status("completed"), StatusCompleted)
	assert.Equal(t, Status("failed"), StatusFailed)
	assert.Equal(t, Status("rolled_back"), StatusRolledBack)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusRolledBack.Terminal())
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
	}{
		{"up", DirectionUp},
		{"apply", DirectionUp},
		{" UP ", DirectionUp},
		{"down", DirectionDown},
		{"Rollback", DirectionDown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown direction", func(t *testing.T) {
		_, err := ParseDirection("sideways")
		assert.Error(t, err)
	})
}

func TestMigration_Body(t *testing.T) {
	m := Migration{UpSQL: "CREATE TABLE t (id INT);", DownSQL: "DROP TABLE t;"}

	assert.Equal(t, m.UpSQL, m.Body(DirectionUp))
	assert.Equal(t, m.DownSQL, m.Body(DirectionDown))
	assert.True(t, m.Reversible())

	m.DownSQL = "  \n"
	assert.False(t, m.Reversible())
}

func TestPlan_IDs(t *testing.T) {
	p := Plan{Migrations: []Migration{{ID: "001_a"}, {ID: "002_b"}}}

	assert.False(t, p.Empty())
	assert.Equal(t, []string{"001_a", "002_b"}, p.IDs())
	assert.True(t, Plan{}.Empty())
}

func TestLockRecord_Expired(t *testing.T) {
	now := time.Now()
	rec := LockRecord{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, rec.Expired(now))
	assert.True(t, rec.Expired(now.Add(time.Minute)))
	assert.True(t, rec.Expired(now.Add(2*time.Minute)))
}

func TestNewLedgerEntry(t *testing.T) {
	m := Migration{
		ID:          "001_create_users",
		Version:     "001",
		Name:        "create_users",
		Description: "users table",
		Filename:    "001_create_users.sql",
		Checksum:    "abc",
	}

	entry := NewLedgerEntry(m)

	assert.Equal(t, m.ID, entry.ID)
	assert.Equal(t, m.Version, entry.Version)
	assert.Equal(t, m.Name, entry.Name)
	assert.Equal(t, m.Description, entry.Description)
	assert.Equal(t, m.Filename, entry.Filename)
	assert.Equal(t, m.Checksum, entry.Checksum)
	assert.Equal(t, StatusPending, entry.Status)
}
