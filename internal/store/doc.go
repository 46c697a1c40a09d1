// Package store persists what lives beside the position tree: a SQLite
// database of imported games indexed by the positions they reach, and
// zstd-compressed snapshot archives of the tree files.
//
// Game database:
//   - games: one row per game, keyed by Site/Link or a name-based UUID
//   - positions: full and reduced fingerprints of every ply
//
// Performance queries read a player's games on one day and hand them to
// the perf package.
package store
