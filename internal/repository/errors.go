// Package repository defines error types that are reused across the
// data access layer. These sentinel values let higher layers such as the
// identity service distinguish between failure scenarios without
// inspecting driver-specific errors.
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup by a unique key yields no rows.
var ErrNotFound = errors.New("user not found")

// ErrEmailExists is returned when an insert or update collides with the
// unique email index.
var ErrEmailExists = errors.New("email already exists")

// ErrMobileExists is returned when an insert or update collides with the
// unique mobile index.
var ErrMobileExists = errors.New("mobile already exists")

// ErrDuplicate is returned for unique-index violations on any other key.
var ErrDuplicate = errors.New("duplicate key")

// ErrTooLong is returned when a value does not fit its column.
var ErrTooLong = errors.New("value too long for column")

// MySQL server error numbers.
const (
	mysqlDuplicateEntry = 1062
	mysqlDataTooLong    = 1406
)

// translateWrite maps MySQL write errors onto sentinels: a duplicate key
// becomes the sentinel matching the violated index and an over-long value
// becomes ErrTooLong. Any other error is returned unchanged. The unique
// index is the authoritative conflict signal for concurrent inserts.
func translateWrite(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case mysqlDataTooLong:
		return fmt.Errorf("%w: %s", ErrTooLong, me.Message)
	case mysqlDuplicateEntry:
	default:
		return err
	}
	msg := strings.ToLower(me.Message)
	switch {
	case strings.Contains(msg, "uq_users_email"):
		return ErrEmailExists
	case strings.Contains(msg, "uq_users_mobile"):
		return ErrMobileExists
	default:
		return ErrDuplicate
	}
}
