// Package internal holds answer normalization and hashing helpers shared by
// the engine and its stores. Nothing here is part of the public API.
package internal
