// Package base holds the pieces shared by every completion provider: retry
// policy, defaults resolution and message shaping for APIs that take the
// system prompt out of band.
package base
