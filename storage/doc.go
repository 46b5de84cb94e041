// Package storage provides a content-addressed archive with pluggable backends.
//
// Coordinators archive their final federation outcome and the endpoint
// descriptors they received, so that operators can audit a federation after
// the fact without replaying the ledger. Records are identified by the SHA-256
// hash of their bytes and kept in one namespace per record type:
//
//   - File system storage for local deployments and tests
//   - S3-compatible storage for shared archives
//   - IPFS storage as raw blocks (CIDv1, raw codec, sha2-256)
//   - Vault KV v2 storage for operators that keep endpoints confidential
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/federation/archive/
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix/?region=eu-west-1&endpoint=http://minio:9000&path_style=true
//   - ipfs://127.0.0.1:5001/?timeout=30s
//   - vault://[token@]vault.example.com:8200/secret/federation
//
// # Content Addressing
//
// The IPFS backend needs no index: the multihash of a raw block's CIDv1 is the
// record's ContentID, so CIDFor maps one onto the other and fetched blocks are
// verified against the requested id.
//
// # Redundancy
//
// MultiStorageBackend writes to every available backend and reads from the
// first one holding the record. StorageBackendFactory.CreateMultiBackend builds
// one from a list of locations, skipping the ones it cannot construct.
package storage
