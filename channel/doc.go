// File: channel/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package channel implements I/O endpoints bound to one event loop, the
// handler pipeline events flow through, and outbound write accounting with
// writability watermarks.
//
// Every Channel is registered with exactly one loop. All state changes,
// pipeline mutations and transport calls happen on that loop; calls from
// other goroutines are marshaled through Execute and return a Promise.
package channel
