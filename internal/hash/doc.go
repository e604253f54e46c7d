// Package hash seals index snapshots with a CRC32-Castagnoli trailer and
// verifies it before a snapshot is restored.
//
//	blob := hash.Seal(encoded)
//	body, err := hash.Open(blob)
package hash
