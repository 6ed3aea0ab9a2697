// Package tandem adapts the Tandem control server reached over 20-byte UDP datagrams.
package tandem
