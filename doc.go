// Package hoist provides the core of a file attachment server: route pattern
// compilation, signed-token verification, and the backend/processor contracts
// the HTTP dispatcher calls through.
//
// Files are addressed by opaque ids and served, uploaded, or transformed
// on the fly. Access to download routes is gated by a deterministic HMAC
// token computed over the resource path; upload and presign routes are gated
// by a backend allow-list instead.
//
// # Key Components
//
//   - Pattern: a compiled route template with :name and * captures
//   - Signer: HMAC-SHA256 token signing and verification over resource paths
//   - Backend: storage adapter exposing Get, Upload and Presign
//   - Processor: file transformation adapter invoked with positional args
//   - Registry: immutable name lookup for backends and processors
//
// See the http package for the request dispatcher and response streamer, and
// the filesystem, sqlite and s3 packages for backend implementations.
package hoist
