// Package database owns the connection pool to one backing store: building
// it from configuration or named profiles, checking connections out with a
// bounded wait, liveness probing, pool status and disposal. It also defines
// the error taxonomy and the logger contract shared by the other packages.
package database
