package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationID(t *testing.T) {
	assert.Equal(t, "000001_init", migrationID("migrations/000001_init.up.sql"))
	assert.Equal(t, "20260827120000_add_indexes", migrationID("20260827120000_add_indexes.up.sql"))
}
