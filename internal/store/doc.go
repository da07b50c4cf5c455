// Package store defines the run-statistics repository used by the progress
// store sink and the runs API. Implementations live under internal/storage;
// this package must not import database drivers.
package store
