package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKnownTable(t *testing.T) {
	for _, table := range Tables() {
		assert.True(t, IsKnownTable(table), table)
	}
	assert.False(t, IsKnownTable("users"))
	assert.False(t, IsKnownTable("finds; DROP TABLE finds"))
}

func TestDDLCoversEveryTable(t *testing.T) {
	assert.Len(t, DDL, len(Tables()))
	for i, table := range Tables() {
		assert.Contains(t, DDL[i], table)
	}
}

func TestDDLIsIdempotent(t *testing.T) {
	for _, stmt := range DDL {
		assert.True(t, strings.Contains(stmt, "IF NOT EXISTS"), stmt)
	}
}
