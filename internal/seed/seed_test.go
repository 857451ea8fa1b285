package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/menjalnica/internal/auth"
	"github.com/erazemk/menjalnica/internal/db"
	"github.com/erazemk/menjalnica/internal/store"
)

func TestApplyCatalog(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	c, err := LoadFile("testdata/catalog.yaml")
	require.NoError(t, err)
	require.Len(t, c.Members, 2)
	require.Len(t, c.Items, 3)

	res, err := Apply(ctx, database, c, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{Members: 2, Items: 3}, res)

	nina, err := store.GetMemberByEmail(ctx, database, "nina@example.com")
	require.NoError(t, err)
	require.NotNil(t, nina)
	assert.EqualValues(t, 50, nina.Points)
	assert.True(t, auth.CheckPassword(nina.PasswordHash, "swap-it-forward"))

	luka, _ := store.GetMemberByEmail(ctx, database, "luka@example.com")
	assert.EqualValues(t, 120, luka.Points)

	items, err := store.ListItems(ctx, database, store.ItemFilter{OwnerID: nina.ID})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// Applying again is a no-op.
	res, err = Apply(ctx, database, c, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 5}, res)
	items, _ = store.ListItems(ctx, database, store.ItemFilter{})
	assert.Len(t, items, 3)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("members:\n  - email: a@example.com\n    colour: red\n"))
	assert.Error(t, err)
}

func TestApplyUnknownOwner(t *testing.T) {
	database := db.NewTestDB(t)
	c, err := Parse(strings.NewReader(`
items:
  - owner: ghost@example.com
    title: Scarf
    category: unisex
    condition: good
    points_value: 5
`))
	require.NoError(t, err)

	_, err = Apply(context.Background(), database, c, 50)
	assert.ErrorContains(t, err, "not in the catalog")
}

func TestApplyInvalidItem(t *testing.T) {
	database := db.NewTestDB(t)
	c, err := Parse(strings.NewReader(`
members:
  - email: a@example.com
    display_name: A
    password: long-enough
items:
  - owner: a@example.com
    title: Scarf
    category: pets
    condition: good
    points_value: 5
`))
	require.NoError(t, err)

	_, err = Apply(context.Background(), database, c, 50)
	assert.Error(t, err)
}
