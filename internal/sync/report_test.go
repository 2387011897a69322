package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncReport_AddErrorKeepsCollidingEntries(t *testing.T) {
	r := NewSyncReport()
	r.AddError("a", "first")
	r.AddError("a", "second")
	r.AddError("a", "third")

	assert.Equal(t, "first", r.Errors["a"])
	assert.Equal(t, "second", r.Errors["a#2"])
	assert.Equal(t, "third", r.Errors["a#3"])
}

func TestSyncReport_Succeeded(t *testing.T) {
	r := NewSyncReport()
	r.AddError("a", "item failure")
	assert.True(t, r.Succeeded(), "item failures alone do not fail the cycle")

	r.Error = "authenticate: boom"
	assert.False(t, r.Succeeded())
}

func TestSyncReport_Duration(t *testing.T) {
	r := NewSyncReport()
	assert.Zero(t, r.Duration())
	r.Finish()
	assert.True(t, r.Duration() >= 0)
}
