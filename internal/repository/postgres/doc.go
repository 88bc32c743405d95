// Package postgres holds the PostgreSQL-backed stores. Every tenant-facing
// method takes an explicit tenant.Scope and bakes the organization id into
// the WHERE clause, so a cross-tenant read cannot happen even on a buggy
// caller. Engine-internal methods (batch claiming, counter folds) operate
// across tenants and return rows that carry their organization id for the
// guard to check downstream.
package postgres
