// Package integration holds end-to-end tests that run the gateway process against local fakes.
package integration
