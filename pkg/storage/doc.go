// Package storage defines the persistence interface for projects, messages
// and fragments, plus the sentinel errors and owner context helpers shared by
// the adapters (memory, postgres, sqlite).
package storage
