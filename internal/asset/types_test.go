package asset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagDecodesIDOrObject(t *testing.T) {
	var tags []Tag
	require.NoError(t, json.Unmarshal([]byte(`["t1", {"_id": "t2", "title": "Two"}]`), &tags))
	assert.Equal(t, []Tag{{ID: "t1"}, {ID: "t2", Title: "Two"}}, tags)

	assert.Error(t, json.Unmarshal([]byte(`[42]`), &tags))
}

func TestParseTags(t *testing.T) {
	assert.Equal(t, []Tag{{ID: "a"}, {ID: "b"}}, ParseTags(" a, ,b,"))
	assert.Nil(t, ParseTags(""))
}

func TestDocumentStoresTagIDs(t *testing.T) {
	doc, err := toDocument(Asset{Title: "x", Tags: []Tag{{ID: "t1", Title: "One"}, {ID: " "}}})
	require.NoError(t, err)
	assert.Equal(t, []any{"t1"}, doc["tags"])
	_, hasID := doc["_id"]
	assert.False(t, hasID, "new records get their id from the store")
}

func TestDeltaDocument(t *testing.T) {
	title := "t"
	assert.True(t, Delta{}.Empty())
	assert.Equal(t, map[string]any{"title": "t", "tags": []any{}}, map[string]any(Delta{Title: &title, Tags: []Tag{}}.document()))
}
