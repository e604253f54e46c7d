// Package cache stores the mapping from (camera, local track) to global
// identity, the per-identity track history, and the global ID counter.
//
// Values are written as JSON records:
//
//	global_id:{camera}:{track}  -> {"global_id":7,"camera_id":"camA","track_id":"12","zone":"zone1","timestamp":1718000000.5}
//	track_ids:{global_id}       -> list of "camera:track" strings, append-only
//	global_id_counter           -> integer, incremented atomically
//
// Plain integer values written by older deployments are still accepted on
// read. Anything else is reported as a *MalformedValueError.
//
// Backends live in sub-packages (redis, sqlite, dynamo). Memory is the
// in-process implementation used by tests and single-node setups.
package cache
