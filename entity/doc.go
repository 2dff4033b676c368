// Package entity reads entity metadata from bun struct tags and provides the
// field-map merge and the per-handle identity set used by both repository
// variants.
package entity
