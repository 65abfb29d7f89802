package syncprogress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archivist/engine/pkg/domain"
)

func TestTrackerCopyIsIndependent(t *testing.T) {
	tr := New("src-1")
	tr.SetPhase(domain.PhaseProcessingFiles)
	tr.SetTotals(10, 1000)
	tr.AddProcessed(1, 100)
	tr.AddError("file x failed")

	snap := tr.Copy()
	assert.Equal(t, domain.PhaseProcessingFiles, snap.Phase)
	assert.Equal(t, int64(10), snap.FilesTotal)
	assert.Equal(t, int64(1), snap.FilesProcessed)
	assert.Equal(t, []string{"file x failed"}, snap.Errors)

	// Mutating the tracker after the snapshot must not affect it.
	tr.AddProcessed(1, 100)
	tr.AddError("file y failed")
	assert.Equal(t, int64(1), snap.FilesProcessed)
	assert.Len(t, snap.Errors, 1)
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := New("src-1")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			tr.AddProcessed(1, 10)
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		_ = tr.Copy()
	}
	<-done
	assert.Equal(t, int64(100), tr.Copy().FilesProcessed)
}
