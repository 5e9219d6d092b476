// Package types defines the identities, capabilities, and document store
// interfaces that the weird graph store is built on, together with the
// storage Config and the standard error values.
package types
