package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRollbackRestoresRows(t *testing.T) {
	tbl := NewTable[string, int]("balances")
	tbl.Put("a", 1)
	tbl.Put("b", 2)

	tbl.Begin()
	tbl.Put("a", 10)
	tbl.Put("a", 11)
	tbl.Delete("b")
	tbl.Put("c", 3)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, tbl.Touched())
	tbl.Rollback()

	v, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = tbl.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.False(t, tbl.Has("c"))
	assert.Equal(t, 2, tbl.Len())
}

func TestTableCommitKeepsWrites(t *testing.T) {
	tbl := NewTable[string, int]("balances")
	tbl.Begin()
	tbl.Put("a", 1)
	tbl.Commit()

	assert.Equal(t, 1, tbl.GetOrZero("a"))
	assert.Empty(t, tbl.Touched())

	// a later rollback must not touch committed rows
	tbl.Begin()
	tbl.Rollback()
	assert.Equal(t, 1, tbl.GetOrZero("a"))
}

func TestTableNestedBeginPanics(t *testing.T) {
	tbl := NewTable[string, int]("x")
	tbl.Begin()
	assert.Panics(t, func() { tbl.Begin() })
}

func TestStringKeysSorted(t *testing.T) {
	tbl := NewTable[string, int]("x")
	tbl.Put("eth", 1)
	tbl.Put("btc", 2)
	tbl.Put("usdc", 3)
	assert.Equal(t, []string{"btc", "eth", "usdc"}, StringKeys(tbl))
}

func TestCellRollback(t *testing.T) {
	c := NewCell(5)
	c.Begin()
	c.Set(6)
	c.Set(7)
	assert.True(t, c.Dirty())
	c.Rollback()
	assert.Equal(t, 5, c.Get())

	c.Begin()
	c.Set(8)
	c.Commit()
	assert.Equal(t, 8, c.Get())
}

func TestGroupRollbackAll(t *testing.T) {
	a := NewTable[string, int]("a")
	b := NewCell("x")
	g := Group{a, b}

	g.Begin()
	a.Put("k", 1)
	b.Set("y")
	g.Rollback()

	assert.False(t, a.Has("k"))
	assert.Equal(t, "x", b.Get())
}
