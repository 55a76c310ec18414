package providers_test

import (
	"testing"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDemoFixture(t *testing.T, id model.SourceID) *providers.Fixture {
	t.Helper()
	set, err := providers.LoadFixtures("")
	require.NoError(t, err)
	return providers.NewFixture(id, set)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := providers.NewRegistry()

	err := r.Register(newDemoFixture(t, model.SourceCodex))
	require.NoError(t, err)

	got, err := r.Get(model.SourceCodex)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCodex, got.ID())
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	r := providers.NewRegistry()
	p := newDemoFixture(t, model.SourceClaude)

	require.NoError(t, r.Register(p))

	err := r.Register(p)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := providers.NewRegistry()
	_, err := r.Get("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRegistry_ListAndAll(t *testing.T) {
	r := providers.NewRegistry()
	_ = r.Register(newDemoFixture(t, model.SourceCodex))
	_ = r.Register(newDemoFixture(t, model.SourceClaude))

	assert.Equal(t, []model.SourceID{model.SourceClaude, model.SourceCodex}, r.List())

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, model.SourceClaude, all[0].ID())
}
