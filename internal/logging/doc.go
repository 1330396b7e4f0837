// Package logging provides file-based logging with rotation for stoma.
// JSON logs go to a size-rotated file; stderr gets a human-readable text
// handler when attached to a terminal, JSON otherwise.
package logging
