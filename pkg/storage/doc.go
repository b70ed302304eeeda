// Package storage is the root of litepage's page storage layer.
//
// A database is a pair of files, a data file and a log file, both divided
// into fixed-size pages addressed by byte position. Pages are read and
// written whole; the cache in package memory decides which copies live in
// memory and package disk moves them to and from the files.
//
// # Sub-packages
//
//   - [litepage/pkg/storage/page]   – Buffer, the in-memory image of one
//     page with its identity, share counter and dirty flag, and Slice, a
//     bounds-checked window over a buffer with little-endian accessors.
//   - [litepage/pkg/storage/stream] – Stream, a seekable handle on one file,
//     and Pool, which bounds how many handles are open at once and rents
//     them to readers and writers.
//
// # File layout
//
// Page n of a plain file starts at n*pageSize. An encrypted file stores
// each page as a nonce, the ciphertext and an authentication tag, so page
// n starts at n*(pageSize+encryption.Overhead). Reading past the end of a
// file yields a zero page. An encrypted file has no holes: pages skipped
// over by a write are stored as encrypted zero pages.
package storage
