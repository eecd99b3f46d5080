package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPostgresDSNDefaults(t *testing.T) {
	dsn, err := postgresDSN(Config{User: "studyhub", Name: "studyhub"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=studyhub dbname=studyhub sslmode=disable", dsn)
}

func TestPostgresDSNWithOptions(t *testing.T) {
	dsn, err := postgresDSN(Config{
		User:     "user",
		Name:     "db",
		Host:     "db.example.com",
		Port:     6543,
		Password: "pass",
		Options: map[string]string{
			"sslmode":     "require",
			"search_path": "public",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "host=db.example.com port=6543 user=user dbname=db password=pass search_path=public sslmode=require", dsn)
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
	})
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "user", parsed.User)
	require.Equal(t, "secret", parsed.Passwd)
	require.Equal(t, "db.example.com:3307", parsed.Addr)
	require.Equal(t, "db", parsed.DBName)
	require.True(t, parsed.ParseTime)
	require.Contains(t, dsn, "charset=utf8mb4")
}

func TestDSNRequiresUserAndName(t *testing.T) {
	_, err := postgresDSN(Config{})
	require.Error(t, err)
	_, err = mysqlDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestDSNOverride(t *testing.T) {
	dsn, err := postgresDSN(Config{DSN: "postgres://x"})
	require.NoError(t, err)
	require.Equal(t, "postgres://x", dsn)
}

func TestIsUniqueViolation(t *testing.T) {
	require.False(t, IsUniqueViolation(nil))
	require.True(t, IsUniqueViolation(fmt.Errorf("create: %w", gorm.ErrDuplicatedKey)))
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062}))
	require.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: users.email")))
	require.False(t, IsUniqueViolation(errors.New("FOREIGN KEY constraint failed")))
}
