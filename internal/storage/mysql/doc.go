// Package mysql owns the shared MySQL connection pool and schema migrations
// for the coordination record, security context, and access registry stores.
package mysql
