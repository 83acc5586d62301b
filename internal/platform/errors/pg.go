package errors

import (
	stderrs "errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE classes the repositories map onto error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
	pgStringTruncation    = "22001"
	pgInvalidText         = "22P02"
	pgReadOnlyTx          = "25006"
	pgCannotConnectNow    = "57P03"
	pgAdminShutdown       = "57P01"
)

// pgCode maps a Postgres error onto an ErrorCode; anything that is not a
// PgError, or an unlisted SQLSTATE, stays ErrorCodeDB
func pgCode(err error) ErrorCode {
	var pgErr *pgconn.PgError
	if !stderrs.As(err, &pgErr) {
		return ErrorCodeDB
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return ErrorCodeDuplicateKey
	case pgForeignKeyViolation, pgStringTruncation, pgInvalidText:
		return ErrorCodeInvalidArgument
	case pgNotNullViolation, pgCheckViolation:
		return ErrorCodeValidation
	case pgReadOnlyTx, pgCannotConnectNow, pgAdminShutdown:
		return ErrorCodeUnavailable
	}
	return ErrorCodeDB
}

// FromPostgresWithField wraps a database error with its mapped code and, when
// the PgError names a column or constraint, the offending field. nil stays nil
func FromPostgresWithField(err error, msg string) error {
	if err == nil {
		return nil
	}
	out := Wrap(err, pgCode(err), msg)

	var pgErr *pgconn.PgError
	if !stderrs.As(err, &pgErr) {
		return out
	}
	if col := strings.TrimSpace(pgErr.ColumnName); col != "" {
		return WithField(out, col)
	}
	// dead_letters_source_external_id_key -> id; prefer ColumnName when present
	if c := strings.TrimSpace(pgErr.ConstraintName); c != "" {
		if i := strings.LastIndex(c, "_"); i >= 0 && i+1 < len(c) {
			if tok := c[i+1:]; tok != "key" && tok != "fkey" && tok != "pkey" {
				return WithField(out, tok)
			}
		}
	}
	return out
}
