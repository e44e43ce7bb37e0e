// Package repository holds the storage adapters behind the licensing
// services: MySQL for durable records, Redis for TTL-bound state and
// in-memory maps for development and tests.  Every adapter reports the
// same sentinel errors so callers can switch backends freely.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested record does not exist (or has
// expired).  Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing unique
// key, such as a reused token jti.  Inserts never merge into the existing
// row.
var ErrDuplicate = errors.New("duplicate key")

// mysqlDuplicateEntry is the server error number for unique key violations.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
