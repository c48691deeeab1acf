package vecstore

import (
	"fmt"
	"testing"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectDistinctInt64Paginates(t *testing.T) {
	pages := [][]int64{
		{1, 2, 3},
		{3, 4, 5},
		{6},
	}
	calls := 0
	ids, err := collectDistinctInt64(3, func(offset, limit int) (column.Column, error) {
		require.Equal(t, calls*3, offset)
		require.Equal(t, 3, limit)
		page := pages[calls]
		calls++
		return column.NewColumnInt64(FieldItemID, page), nil
	})
	require.NoError(t, err)
	// Duplicates across page boundaries collapse; the short third page
	// terminates the scan.
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, ids)
	assert.Equal(t, 3, calls)
}

func TestCollectDistinctInt64StopsOnEmptyPage(t *testing.T) {
	pages := [][]int64{
		{7, 8, 9},
		{},
	}
	calls := 0
	ids, err := collectDistinctInt64(3, func(offset, limit int) (column.Column, error) {
		page := pages[calls]
		calls++
		return column.NewColumnInt64(FieldItemID, page), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, ids)
	assert.Equal(t, 2, calls)
}

func TestCollectDistinctInt64PropagatesErrors(t *testing.T) {
	_, err := collectDistinctInt64(3, func(offset, limit int) (column.Column, error) {
		return nil, fmt.Errorf("collection unavailable")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection unavailable")
}

func TestCollectDistinctInt64EmptyCollection(t *testing.T) {
	ids, err := collectDistinctInt64(3, func(offset, limit int) (column.Column, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEscapeFilterValue(t *testing.T) {
	assert.Equal(t, "42_0", escapeFilterValue("42_0"))
	assert.Equal(t, `a\"b`, escapeFilterValue(`a"b`))
	assert.Equal(t, `a\\b`, escapeFilterValue(`a\b`))
	assert.Equal(t, `\\\"`, escapeFilterValue(`\"`))
}
