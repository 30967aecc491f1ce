// Package backupcodes generates, hashes and redeems single-use recovery codes.
//
// Stored form is the unsalted codec hash of the canonical code (upper case,
// no dashes or spaces). Redemption never short-circuits on a match, and the
// stored set is only ever replaced through a compare-and-swap so two racing
// redemptions of one code cannot both succeed.
package backupcodes
