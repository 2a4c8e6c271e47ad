// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

// Fuzz feeds arbitrary bytes through ParseBaseRelocations. The
// parser never panics on malformed input — every error path returns a sentinel error — so
// this simply exercises that the parser terminates and returns
// promptly on corrupt .reloc blocks.
func Fuzz(data []byte) int {
	entries, err := ParseBaseRelocations(data)
	if err != nil {
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	return 1
}
