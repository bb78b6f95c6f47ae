package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchInsert_SplitsOnParamBudget(t *testing.T) {
	batch := NewBatchInsert("movement_rules", "id", "message", "details").WithMaxParams(9)
	for i := 0; i < 10; i++ {
		batch.Add(i, "msg", "")
	}
	assert.Equal(t, 10, batch.Len())

	builders := batch.Builders()
	require.Len(t, builders, 4)

	var total int
	for i, ib := range builders {
		query, args := ib.Build()
		assert.True(t, strings.HasPrefix(query, "INSERT INTO movement_rules (id, message, details) VALUES"), query)
		assert.LessOrEqual(t, len(args), 9)
		if i == len(builders)-1 {
			assert.Len(t, args, 3)
		}
		total += len(args)
	}
	assert.Equal(t, 30, total)
}

func TestBatchInsert_LargeTreeStaysUnderPostgresLimit(t *testing.T) {
	cols := []string{"id", "movement_file_id", "message", "fix_instruction", "details", "created_by", "created_at"}
	batch := NewBatchInsert("movement_rules", cols...)
	for i := 0; i < 10000; i++ {
		batch.Add(i, "f", "m", "fix", "", "op", "now")
	}

	builders := batch.Builders()
	require.Len(t, builders, 2)

	var rows int
	for _, ib := range builders {
		_, args := ib.Build()
		assert.LessOrEqual(t, len(args), MaxBindParams)
		rows += len(args) / len(cols)
	}
	assert.Equal(t, 10000, rows)
}

func TestBatchInsert_Empty(t *testing.T) {
	assert.Empty(t, NewBatchInsert("movement_chains", "id").Builders())
}
