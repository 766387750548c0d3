// Package array provides labeled multi-dimensional arrays.
//
// A Variable is a typed, row-major block of numbers with named dimensions.
// A Dataset groups data variables and coordinate variables that share a
// consistent set of dimension sizes. These are the structured results the
// cache persists, and they can also be passed as computation arguments:
// Variables are fingerprinted by shape, dtype, and content digest rather
// than by identity.
package array
