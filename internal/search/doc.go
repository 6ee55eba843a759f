// Package search holds the two bounded brute-force searches a worker runs for a
// record: hint decoding and password cracking.
//
// Hint decoding enumerates permutations of a record's full alphabet with Heap's
// algorithm and compares the digest of each permutation's prefix against the
// record's hashed hints. It stops as soon as every distinct hint hash has been
// matched, or when the permutation space is exhausted.
//
// Every decoded hint names characters the password does not contain, so the
// password search runs over the reduced alphabet only (see ReduceAlphabet). The
// password search is a depth-first walk over all strings of the target length,
// repetition allowed, in lexicographic order, and returns on the first match.
//
// Both searches are pure: the same inputs always produce the same outputs, so a
// task executed twice by two workers yields identical results.
package search
