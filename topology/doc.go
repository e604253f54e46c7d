// Package topology loads the zone/camera/transition document and answers
// camera lookups for the resolver.
//
// A topology is built once and is read-only afterwards, so a *Topology can be
// shared freely between goroutines.
//
//	zones:
//	  - name: zone1
//	    cameras:
//	      - id: camA
//	        uri: rtsp://192.168.1.10:554/stream
//	      - id: camB
//	        uri: rtsp://192.168.1.11:554/stream
//	    transitions:
//	      - [camA, camB, 0.9]
//
// Transitions may cross zones. For every declared edge a→b without a declared
// b→a, the reverse edge is synthesized with weight round(1-w, 2).
package topology
