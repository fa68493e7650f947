package db

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSN_ForcesMatchedRowsAndParseTime(t *testing.T) {
	dsn, err := mysqlDSN("gw:secret@tcp(127.0.0.1:3306)/imggw")
	require.NoError(t, err)

	mc, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, mc.ClientFoundRows)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, "imggw", mc.DBName)
	assert.Equal(t, "127.0.0.1:3306", mc.Addr)
}

func TestMySQLDSN_Invalid(t *testing.T) {
	_, err := mysqlDSN("")
	assert.Error(t, err)

	_, err = mysqlDSN("no-slash-here")
	assert.Error(t, err)
}
