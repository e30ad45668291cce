package sqlbase

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrator_Pending(t *testing.T) {
	m := NewMigrator(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, map[int]string{
		3: "c",
		1: "a",
		2: "b",
	})

	assert.Equal(t, []int{1, 2, 3}, m.pending(0))
	assert.Equal(t, []int{3}, m.pending(2))
	assert.Empty(t, m.pending(3))
}
