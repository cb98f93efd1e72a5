package merkle

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupManager_CreateAndRestoreLatest(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewBackupManager(filepath.Join(dir, "backups"), 7)
	require.NoError(t, err)

	snap := New()
	snap.Entries["a.go"] = [HashSize]byte{1}

	path, err := mgr.CreateBackup(snap)
	require.NoError(t, err)
	assert.FileExists(t, path)

	restored, err := mgr.RestoreLatest()
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, snap.Entries, restored.Entries)
}

func TestBackupManager_RestoreLatestWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewBackupManager(dir, 7)
	require.NoError(t, err)

	restored, err := mgr.RestoreLatest()
	require.NoError(t, err)
	assert.Nil(t, restored)
}

func TestBackupManager_RotatesOldBackups(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewBackupManager(dir, 2)
	require.NoError(t, err)

	snap := New()
	for i := 0; i < 5; i++ {
		_, err := mgr.CreateBackup(snap)
		require.NoError(t, err)
	}

	backups, err := mgr.ListBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 2)
}

func TestBackupManager_DefaultRetention(t *testing.T) {
	mgr, err := NewBackupManager(t.TempDir(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultRetentionCount, mgr.RetentionCount())
}
