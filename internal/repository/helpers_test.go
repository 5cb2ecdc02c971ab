package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'bus-1-4' for key 'uq_bus_seat'"}
	assert.True(t, isDuplicateKey(dup))
	assert.True(t, isDuplicateKey(fmt.Errorf("insert seats: %w", dup)))
	assert.False(t, isDuplicateKey(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isDuplicateKey(errors.New("1062")))
	assert.False(t, isDuplicateKey(nil))
}
