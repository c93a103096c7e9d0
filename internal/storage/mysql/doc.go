// Package mysql persists registered automation tasks and analysis records in
// MySQL. Schema changes ship as embedded SQL migrations applied on open.
package mysql
