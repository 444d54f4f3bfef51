//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version.
// The CLI and the on-disk formats (chunk keys, html state encoding) share
// this version.
const Version = "0.3.0"
