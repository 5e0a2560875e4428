package repo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestComputeDivergence_EmptyRepoNeverDiverges(t *testing.T) {
	parent := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	assert.False(t, computeDivergence(uuid.NullUUID{}, parent))
	assert.False(t, computeDivergence(uuid.NullUUID{}, uuid.NullUUID{}))
}

func TestComputeDivergence_ParentMatchesHead(t *testing.T) {
	head := uuid.New()
	current := uuid.NullUUID{UUID: head, Valid: true}
	parent := uuid.NullUUID{UUID: head, Valid: true}
	assert.False(t, computeDivergence(current, parent))
}

func TestComputeDivergence_ParentMismatchOrMissingIsDivergent(t *testing.T) {
	current := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	assert.True(t, computeDivergence(current, uuid.NullUUID{}))

	mismatched := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	assert.True(t, computeDivergence(current, mismatched))
}

func TestFileKind(t *testing.T) {
	assert.Equal(t, "ai", fileKind("model/weights.safetensors"))
	assert.Equal(t, "data", fileKind("dataset.csv"))
	assert.Equal(t, "data", fileKind("table.parquet"))
	assert.Equal(t, "code", fileKind("main.go"))
}

func TestRepositoryLanguages_UnknownExtensionIsEmpty(t *testing.T) {
	_, ok := repositoryLanguages["unknownext"]
	assert.False(t, ok)
}
