// Package httputil carries the request/response helpers shared by every
// API handler: JSON encoding, request decoding, and the mapping from the
// error taxonomy to HTTP status codes. Handlers use these instead of raw
// http.ResponseWriter calls so the wire format stays uniform.
package httputil
