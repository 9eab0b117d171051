// Package model wraps the frozen urgency classifier. The artifact is a
// msgpack-encoded recurrent network loaded once at startup; inference is
// deterministic and rejects any input tensor that does not match the
// training shape of (1, 94, 13).
package model
