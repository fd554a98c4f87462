// Package stores persists build history: one row per engine run plus the
// terminal event recorded for each rule. The backing store is SQLite with
// embedded migrations.
package stores
