package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionParams_ConnString(t *testing.T) {
	params := ConnectionParams{
		Host:     "localhost",
		Port:     5432,
		User:     "paperrag",
		Password: "secret",
		DBName:   "paperrag",
	}
	assert.Equal(t, "host=localhost port=5432 user=paperrag password=secret dbname=paperrag sslmode=disable", params.ConnString())

	params.SSLMode = "require"
	assert.Contains(t, params.ConnString(), "sslmode=require")
	assert.Equal(t, "localhost:5432", params.Address())
}

func TestDB_CloseNil(t *testing.T) {
	var db *DB
	assert.NotPanics(t, db.Close)
}

func TestLockID(t *testing.T) {
	a := LockID("fermat", "fermat-1")
	assert.Equal(t, a, LockID("fermat", "fermat-1"))
	assert.NotEqual(t, a, LockID("fermat", "fermat-2"))
	// 区切りがあるため連結結果が同じでも別IDになる
	assert.NotEqual(t, LockID("ab", "c"), LockID("a", "bc"))
}
