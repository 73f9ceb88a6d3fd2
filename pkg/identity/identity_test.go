package identity

import (
	"testing"

	"gotest.tools/assert"
)

func TestNewDefaults(t *testing.T) {
	id, err := New("x86_64", "stable", "", "c4b3b7f0-31db-4aa5-9e0d-75dfe1b5b1ad", nil)
	assert.NilError(t, err)
	assert.Equal(t, id.Group, DefaultGroup)
	assert.Equal(t, id.Stream, "stable")
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "stable", "", "c4b3b7f0-31db-4aa5-9e0d-75dfe1b5b1ad", nil)
	assert.Check(t, err != nil)

	_, err = New("x86_64", "", "", "c4b3b7f0-31db-4aa5-9e0d-75dfe1b5b1ad", nil)
	assert.Check(t, err != nil)

	_, err = New("x86_64", "stable", "", "not-a-uuid", nil)
	assert.Check(t, err != nil)

	tooWary := uint16(1500)
	_, err = New("x86_64", "stable", "", "c4b3b7f0-31db-4aa5-9e0d-75dfe1b5b1ad", &tooWary)
	assert.Check(t, err != nil)
}

func TestWarinessDeterministic(t *testing.T) {
	id, err := New("x86_64", "stable", "workers", "c4b3b7f0-31db-4aa5-9e0d-75dfe1b5b1ad", nil)
	assert.NilError(t, err)

	first := id.WarinessPermille("30.2")
	for i := 0; i < 10; i++ {
		assert.Equal(t, id.WarinessPermille("30.2"), first)
	}
	assert.Check(t, first < 1000)

	// Distinct versions reshuffle the host's position in the rollout.
	other := id.WarinessPermille("30.3")
	repeat := id.WarinessPermille("30.3")
	assert.Equal(t, other, repeat)
}

func TestWarinessOverride(t *testing.T) {
	pinned := uint16(250)
	id, err := New("x86_64", "stable", "", "c4b3b7f0-31db-4aa5-9e0d-75dfe1b5b1ad", &pinned)
	assert.NilError(t, err)
	assert.Equal(t, id.WarinessPermille("30.2"), pinned)
	assert.Equal(t, id.WarinessPermille("31.0"), pinned)
}
