package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/ledger-service/internal/domain"
)

func TestFileJournalDropsTornTail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.jsonl")

	j, err := OpenFileJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, Record{
		Kind:       RecordBranch,
		RecordedAt: time.Now().UTC(),
		Branch:     &domain.Branch{ID: "B1", Name: "Main"},
	}))
	require.NoError(t, j.Close())

	intact, err := os.ReadFile(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"branch","branch":{"branch_id":"B2"`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = OpenFileJournal(path)
	require.NoError(t, err)
	defer j.Close()

	var got []Record
	require.NoError(t, j.Replay(ctx, func(rec Record) error {
		got = append(got, rec)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "B1", got[0].Branch.ID)

	truncated, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, intact, truncated)
}

func TestFileJournalRejectsCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))

	j, err := OpenFileJournal(path)
	require.NoError(t, err)
	defer j.Close()

	err = j.Replay(context.Background(), func(Record) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt record")
}

// faultyFile wraps the journal's file and fails selected operations.
type faultyFile struct {
	journalFile
	shortWrites   int // next n writes store half the line and fail
	failSyncs     int
	failTruncates bool
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if f.shortWrites > 0 {
		f.shortWrites--
		n, _ := f.journalFile.Write(p[:len(p)/2])
		return n, errors.New("no space left on device")
	}
	return f.journalFile.Write(p)
}

func (f *faultyFile) Sync() error {
	if f.failSyncs > 0 {
		f.failSyncs--
		return errors.New("input/output error")
	}
	return f.journalFile.Sync()
}

func (f *faultyFile) Truncate(size int64) error {
	if f.failTruncates {
		return errors.New("read-only file system")
	}
	return f.journalFile.Truncate(size)
}

func branchRecord(id string) Record {
	return Record{Kind: RecordBranch, RecordedAt: time.Now().UTC(), Branch: &domain.Branch{ID: id, Name: "Branch " + id}}
}

func openFaulty(t *testing.T, path string) (*FileJournal, *faultyFile) {
	t.Helper()
	j, err := OpenFileJournal(path)
	require.NoError(t, err)
	faulty := &faultyFile{journalFile: j.file}
	j.file = faulty
	return j, faulty
}

func replayedBranches(t *testing.T, path string) []string {
	t.Helper()
	j, err := OpenFileJournal(path)
	require.NoError(t, err)
	defer j.Close()

	var ids []string
	require.NoError(t, j.Replay(context.Background(), func(rec Record) error {
		ids = append(ids, rec.Branch.ID)
		return nil
	}))
	return ids
}

func TestFileJournalShortWriteIsRolledBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, faulty := openFaulty(t, path)
	require.NoError(t, j.Append(ctx, branchRecord("B1")))

	faulty.shortWrites = 1
	require.Error(t, j.Append(ctx, branchRecord("B2")))
	require.NoError(t, j.Append(ctx, branchRecord("B3")))
	require.NoError(t, j.Close())

	assert.Equal(t, []string{"B1", "B3"}, replayedBranches(t, path))
}

func TestFileJournalFailedSyncIsRolledBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, faulty := openFaulty(t, path)
	require.NoError(t, j.Append(ctx, branchRecord("B1")))

	faulty.failSyncs = 1
	err := j.Append(ctx, branchRecord("B2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync journal record")

	// a retry of the failed record lands exactly once
	require.NoError(t, j.Append(ctx, branchRecord("B2")))
	require.NoError(t, j.Close())

	assert.Equal(t, []string{"B1", "B2"}, replayedBranches(t, path))
}

func TestFileJournalBrokenAfterFailedRollback(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, faulty := openFaulty(t, path)
	require.NoError(t, j.Append(ctx, branchRecord("B1")))

	faulty.shortWrites = 1
	faulty.failTruncates = true
	first := j.Append(ctx, branchRecord("B2"))
	require.Error(t, first)
	assert.Contains(t, first.Error(), "unusable")

	faulty.failTruncates = false
	err := j.Append(ctx, branchRecord("B3"))
	require.Error(t, err)
	assert.Equal(t, first, err)
	require.NoError(t, j.Close())

	// only the torn tail follows B1, and replay drops it
	assert.Equal(t, []string{"B1"}, replayedBranches(t, path))
}

func TestLedgerSurvivesRolledBackJournalWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	j, faulty := openFaulty(t, path)
	l := seedLedger(t, j, "A1")

	faulty.shortWrites = 1
	_, err := l.Append(ctx, deposit("A1", "5"))
	require.ErrorIs(t, err, ErrJournal)

	_, err = l.Append(ctx, deposit("A1", "7"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	journal, err := OpenFileJournal(path)
	require.NoError(t, err)
	reopened, err := Open(ctx, journal, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, balanceOf(t, reopened, "A1").Equal(amount("7")))
	require.NoError(t, reopened.Verify(ctx))
}
