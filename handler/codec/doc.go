// File: handler/codec/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package codec holds stream framing handlers: a cumulating
// ByteToMessageDecoder, length-field and line based frame decoders and a
// length-field prepender for the outbound side.
package codec
