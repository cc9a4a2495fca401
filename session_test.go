package main

import (
	"bytes"
	"testing"

	"PruneDB/config"
	storageengine "PruneDB/storage_engine"
	"PruneDB/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*session, *bytes.Buffer) {
	t.Helper()
	cfg := config.NewCfg()
	cfg.DataDir = t.TempDir()
	cfg.BufferPoolPages = 16
	cfg.VictimCacheBytes = 0
	se, err := storageengine.NewStorageEngine(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { se.Close() })

	var out bytes.Buffer
	return newSession(se, &out), &out
}

func run(t *testing.T, s *session, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, s.execute(line), line)
	return out.String()
}

func TestSessionHotChain(t *testing.T) {
	s, out := newTestSession(t)

	assert.Equal(t, "CREATE accounts id=1 file=1\n", run(t, s, out, "create accounts id,name,balance indexed=1,2"))
	assert.Equal(t, "INSERT 1/0/1\n", run(t, s, out, "insert accounts 1 alice 100"))
	assert.Equal(t, "UPDATE 1/0/1 -> 1/0/2 HOT modified={}\n", run(t, s, out, "update 1/0/1 1 alice 90"))
	assert.Equal(t, "UPDATE 1/0/2 -> 1/0/3 HOT modified={}\n", run(t, s, out, "update 1/0/1 1 alice 80"))

	assert.Equal(t, "VACUUM deleted=2 now_dead=0 latest_removed_xid=4\n", run(t, s, out, "vacuum accounts 0"))
	assert.Equal(t, "3 -> root 1\n", run(t, s, out, "roots accounts 0"))
	assert.Equal(t, "1/0/3 (\"1\", \"alice\", \"80\")\n", run(t, s, out, "fetch 1/0/1"))

	// the freed slot takes the next version; the name is indexed
	assert.Equal(t, "UPDATE 1/0/3 -> 1/0/2 PHOT modified={2}\n", run(t, s, out, "update 1/0/1 1 alicia 80"))

	dump := run(t, s, out, "inspect accounts 0")
	assert.Contains(t, dump, "REDIRECT(->3)")
	assert.Contains(t, dump, "HEAP_ONLY|PARTIAL_HOT_UPDATED")
	assert.Contains(t, dump, "PARTIAL_HEAP_ONLY")
}

func TestSessionTransactions(t *testing.T) {
	s, out := newTestSession(t)
	run(t, s, out, "create t a,b")

	run(t, s, out, "begin")
	assert.Equal(t, "db(xid 2)> ", s.prompt())
	run(t, s, out, "insert t x NULL")
	run(t, s, out, "abort")
	assert.Equal(t, "db> ", s.prompt())

	assert.Equal(t, "(0 rows)\n", run(t, s, out, "scan t"))
	assert.Equal(t, "VACUUM deleted=1 now_dead=1 latest_removed_xid=0\n  dead 1/0/1\n", run(t, s, out, "vacuum t"))
	assert.Equal(t, "RELEASE 1\n", run(t, s, out, "release t 0 1"))

	run(t, s, out, "insert t y NULL")
	assert.Equal(t, "1/0/1 (\"y\", NULL)\n(1 rows)\n", run(t, s, out, "scan t"))
}

func TestSessionErrors(t *testing.T) {
	s, _ := newTestSession(t)

	assert.ErrorIs(t, s.execute("commit"), storageengine.ErrNoTransaction)
	assert.Error(t, s.execute("fetch 1/0"))
	assert.Error(t, s.execute("fetch 1/0/0"))
	assert.Error(t, s.execute("frobnicate"))
	assert.ErrorIs(t, s.execute("insert"), errUsage)

	require.NoError(t, s.execute("begin"))
	assert.Error(t, s.execute("begin"))
	assert.Error(t, s.execute("checkpoint"))
	s.rollback()
	assert.Nil(t, s.tx)
}

func TestParseTID(t *testing.T) {
	tid, err := parseTID("3/7/12")
	require.NoError(t, err)
	assert.Equal(t, types.RowPointer{FileID: 3, PageNumber: 7, SlotIndex: 12}, tid)
	assert.Equal(t, "3/7/12", formatTID(tid))

	for _, bad := range []string{"", "1/2", "a/b/c", "1/2/70000", "1/2/0"} {
		_, err := parseTID(bad)
		assert.Error(t, err, bad)
	}
}
