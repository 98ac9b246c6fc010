// Package state defines the checkpoint contract used to persist a session's
// local mirror between runs, plus in-memory and Redis backed stores.
//
// Responsibilities:
//   - Store[T] loads, saves and deletes a single checkpoint for a single Ref.
//   - Resolver[T] resolves a checkpoint against defaults and performs
//     ETag-checked read/modify/write cycles.
//   - The audit engine stays persistence-agnostic; it only sees Store[T].
//
// Encoding:
//
//	snapshot + Meta -> deterministic CBOR -> zstd -> Redis value
//
// Fingerprints:
//
//	Meta.ETag defaults to the BLAKE3 digest of the deterministic CBOR encoding
//	of the snapshot, so two sessions holding the same mirror agree on the tag.
//
// Deterministic keys:
//
//	Ref.Identifier() returns "namespace/id". RedisStore prefixes it with
//	"rla:checkpoint:" unless WithKeyPrefix says otherwise.
package state
