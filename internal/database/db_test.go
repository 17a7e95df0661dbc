package database

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/crowdfund-auth/internal/config"
)

func TestDSN(t *testing.T) {
	cfg := config.Config{
		DBUser:       "app",
		DBPass:       "p@ss:w/rd?",
		DBHost:       "db.internal",
		DBPort:       "3307",
		DBName:       "crowdfund",
		StoreTimeout: 3 * time.Second,
	}
	mc, err := mysql.ParseDSN(DSN(cfg))
	require.NoError(t, err)

	assert.Equal(t, "app", mc.User)
	assert.Equal(t, "p@ss:w/rd?", mc.Passwd)
	assert.Equal(t, "tcp", mc.Net)
	assert.Equal(t, "db.internal:3307", mc.Addr)
	assert.Equal(t, "crowdfund", mc.DBName)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, time.UTC, mc.Loc)
	assert.Equal(t, "utf8mb4_unicode_ci", mc.Collation)
	assert.Equal(t, 3*time.Second, mc.Timeout)
}

func TestDSN_IPv6Host(t *testing.T) {
	mc, err := mysql.ParseDSN(DSN(config.Config{DBUser: "root", DBHost: "::1", DBPort: "3306", DBName: "x"}))
	require.NoError(t, err)
	assert.Equal(t, "[::1]:3306", mc.Addr)
	assert.Empty(t, mc.Passwd)
}
