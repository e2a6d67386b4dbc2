package dispatch

import (
	"bytes"
	"strings"
)

const (
	// HeaderNodePubkey carries the node's base58 identity public key.
	HeaderNodePubkey = "X-Node-Pubkey"
	// HeaderSignature carries the base58 detached ed25519 signature for the
	// request.
	HeaderSignature = "X-Signature"
	// HeaderTimestamp is the unix-millisecond timestamp bound into the
	// signature; the dispatcher enforces the replay window.
	HeaderTimestamp = "X-Timestamp"
)

// SigningPayload builds the byte string a request signature covers:
// timestamp, uppercased method, path and body concatenated in order. Binding
// all four stops a captured signature from being replayed against a
// different endpoint or payload.
func SigningPayload(timestamp, method, path string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.TrimSpace(timestamp))
	buf.WriteString(strings.ToUpper(method))
	buf.WriteString(path)
	buf.Write(body)
	return buf.Bytes()
}
