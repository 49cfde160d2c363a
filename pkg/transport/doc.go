// Package transport defines the bound datagram endpoints the relay reads from
// and writes to, and the raw peer identity taken from a sender address.
//
// Key concepts:
// - Endpoint: a bound connectionless socket (udp, unixgram subpackages)
// - Identity: family-tagged copy of a sender address, compared per family
//   with Equal (port + address bytes for inet, path for the local channel)
package transport
