/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
)

func (e SQLError) String() string {
	switch e {
	case NoRowsErr:
		return "no_rows"
	case NoIndexErr:
		return "no_index"
	case NoColumnErr:
		return "no_column"
	case ExistIndexErr:
		return "exist_index"
	case ExistColumnErr:
		return "exist_column"
	case NoTableErr:
		return "no_table"
	case ExistTableErr:
		return "exist_table"
	case DuplicateKeyErr:
		return "duplicate_key"
	case NotNullViolationErr:
		return "not_null_violation"
	case ForeignKeyViolationErr:
		return "foreign_key_violation"
	case CheckConstraintViolationErr:
		return "check_violation"
	case DataTruncatedErr:
		return "data_truncated"
	case InvalidTypeCastErr:
		return "invalid_type_cast"
	default:
		return "unknown"
	}
}

// IsConstraint reports whether the code is an integrity constraint rejection.
func (e SQLError) IsConstraint() bool {
	switch e {
	case DuplicateKeyErr, NotNullViolationErr, ForeignKeyViolationErr, CheckConstraintViolationErr:
		return true
	}
	return false
}

var (
	// ErrPoolExhausted matches every *PoolExhaustedError.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrInvalidHandleState matches every *HandleStateError.
	ErrInvalidHandleState = errors.New("invalid handle state")
	// ErrNotConnected is returned by managers used before Connect or after Dispose.
	ErrNotConnected = errors.New("database not connected")
	// ErrNotFound is only used by helpers that need an error value for an
	// absent record; repositories report absence as a nil result.
	ErrNotFound = errors.New("record not found")
	// ErrStaleVersion matches every *StaleVersionError.
	ErrStaleVersion = errors.New("stale record version")
)

// PoolExhaustedError is returned when no connection could be checked out
// within the configured timeout. Nothing was acquired, so the call may be
// retried.
type PoolExhaustedError struct {
	Timeout time.Duration
	Err     error
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted: no connection available within %s", e.Timeout)
}

func (e *PoolExhaustedError) Unwrap() error { return e.Err }

func (e *PoolExhaustedError) Is(target error) bool { return target == ErrPoolExhausted }

// ConstraintViolationError carries a write the backing store rejected. Err is
// the driver error, unchanged.
type ConstraintViolationError struct {
	Kind SQLError
	Err  error
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation (%s): %v", e.Kind, e.Err)
}

func (e *ConstraintViolationError) Unwrap() error { return e.Err }

// TransactionFailureError wraps any other backing-store error raised while a
// handle was in use.
type TransactionFailureError struct {
	Op  string
	Err error
}

func (e *TransactionFailureError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transaction failure: %v", e.Err)
	}
	return fmt.Sprintf("transaction failure in %s: %v", e.Op, e.Err)
}

func (e *TransactionFailureError) Unwrap() error { return e.Err }

// HandleStateError reports an operation that the handle's current state
// does not allow, such as a second commit.
type HandleStateError struct {
	HandleID string
	Op       string
	State    string
}

func (e *HandleStateError) Error() string {
	return fmt.Sprintf("handle %s: cannot %s in state %s", e.HandleID, e.Op, e.State)
}

func (e *HandleStateError) Is(target error) bool { return target == ErrInvalidHandleState }

// UnknownFieldError is returned when a field map names a column the entity
// does not have, or one that may not be assigned.
type UnknownFieldError struct {
	Entity string
	Field  string
	Reason string
}

func (e *UnknownFieldError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("entity %s: field %q %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("entity %s has no field %q", e.Entity, e.Field)
}

// StaleVersionError is returned when an update of a versioned record names a
// version other than the stored one. Nothing was written.
type StaleVersionError struct {
	Entity   string
	ID       any
	Expected int64
	Actual   int64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("entity %s %v: expected version %d, stored version is %d", e.Entity, e.ID, e.Expected, e.Actual)
}

func (e *StaleVersionError) Is(target error) bool { return target == ErrStaleVersion }

func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1091:
			return true, NoIndexErr
		case 1054:
			return true, NoColumnErr
		case 1061:
			return true, ExistIndexErr
		case 1060:
			return true, ExistColumnErr
		case 1062:
			return true, DuplicateKeyErr
		case 1048:
			return true, NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return true, ForeignKeyViolationErr
		case 3819:
			return true, CheckConstraintViolationErr
		case 1265:
			return true, DataTruncatedErr
		default:
			return true, UnknownErr
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true, sqlStateError(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return true, sqlStateError(string(pqErr.Code))
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "sqlstate 42703") ||
		strings.Contains(s, "undefined column") ||
		strings.Contains(s, "no such column") {
		return true, NoColumnErr
	}
	if strings.Contains(s, "sqlstate 42p01") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "no such table") {
		return true, NoTableErr
	}
	if strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "sqlstate 23505") {
		return true, DuplicateKeyErr
	}
	if strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") ||
		strings.Contains(s, "not null constraint failed") {
		return true, NotNullViolationErr
	}
	if strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "sqlstate 23503") {
		return true, ForeignKeyViolationErr
	}
	if strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514") {
		return true, CheckConstraintViolationErr
	}
	if strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "sqlstate 22001") ||
		strings.Contains(s, "data truncated") {
		return true, DataTruncatedErr
	}
	if strings.Contains(s, "datatype mismatch") ||
		strings.Contains(s, "sqlstate 42804") {
		return true, InvalidTypeCastErr
	}
	return false, UnknownErr
}

func sqlStateError(code string) SQLError {
	switch code {
	case "23505":
		return DuplicateKeyErr
	case "23502":
		return NotNullViolationErr
	case "23503":
		return ForeignKeyViolationErr
	case "23514":
		return CheckConstraintViolationErr
	case "22001":
		return DataTruncatedErr
	case "42703":
		return NoColumnErr
	case "42P01":
		return NoTableErr
	case "42804":
		return InvalidTypeCastErr
	}
	return UnknownErr
}

// Classify maps a backing-store error raised during op onto the public
// taxonomy. Errors that are already typed pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		cv *ConstraintViolationError
		tf *TransactionFailureError
		hs *HandleStateError
		uf *UnknownFieldError
	)
	switch {
	case errors.As(err, &cv), errors.As(err, &tf), errors.As(err, &hs), errors.As(err, &uf),
		errors.Is(err, ErrPoolExhausted):
		return err
	}
	if ok, kind := IsSqlError(err); ok && kind.IsConstraint() {
		return &ConstraintViolationError{Kind: kind, Err: err}
	}
	return &TransactionFailureError{Op: op, Err: err}
}
