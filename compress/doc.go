// Package compress detects and transparently strips a compression envelope
// that may wrap an otherwise-ordinary DataFlash log on disk.
//
// ArduPilot logs pulled off a vehicle's SD card are sometimes shipped
// gzip-compressed by ground-station tooling, and some log archival
// pipelines re-wrap them in zstd or an LZ4 frame for cold storage. None of
// that is part of the DataFlash wire format itself — it is an outer
// transport envelope — so this package's job ends the moment the original
// byte stream is recovered; everything downstream (framing, indexing,
// decoding) never knows compression was involved.
//
// Detection is magic-byte sniffing, not a header flag, since the envelope
// (if any) is produced by something outside the log writer entirely:
//
//	gzip: 1F 8B
//	zstd: 28 B5 2F FD
//	lz4 frame: 04 22 4D 18
//
// This is read-only and one-shot: Sniff is called once by source.OpenFile, and only
// Decompress is exercised. Unlike the originating codec design (which also
// compresses), these implementations only need to decompress an envelope a
// vehicle or pipeline already produced.
package compress
