// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import "testing"

func TestSectionNameTrimsTrailingNUL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", ".text", ".text"},
		{"already clean", ".rdata", ".rdata"},
		{"NUL padded", ".data\x00\x00\x00", ".data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Section{name: tt.in}
			if got := s.Name(); got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSectionUnplacedAccessorsError(t *testing.T) {
	s := &Section{name: ".text"}
	if s.Placed() {
		t.Errorf("Placed() = true for a fresh section, want false")
	}
	if _, err := s.RVA(); err != ErrSectionNotPlaced {
		t.Errorf("RVA() error = %v, want ErrSectionNotPlaced", err)
	}
	if _, err := s.FilePos(); err != ErrSectionNotPlaced {
		t.Errorf("FilePos() error = %v, want ErrSectionNotPlaced", err)
	}
}

func TestSectionPlacedAccessors(t *testing.T) {
	s := &Section{name: ".text", placed: true, rvaWhenPlaced: 0x1000, filePosWhenPlaced: 0x400}
	if !s.Placed() {
		t.Fatalf("Placed() = false, want true")
	}
	if rva, err := s.RVA(); err != nil || rva != 0x1000 {
		t.Errorf("RVA() = (%#x, %v), want (0x1000, nil)", rva, err)
	}
	if pos, err := s.FilePos(); err != nil || pos != 0x400 {
		t.Errorf("FilePos() = (%#x, %v), want (0x400, nil)", pos, err)
	}
}

func TestPrettySectionFlags(t *testing.T) {
	tests := []struct {
		name            string
		characteristics uint32
		want            []string
	}{
		{"code + execute + read", ImageScnCntCode | ImageScnMemExecute | ImageScnMemRead, []string{"Contains Code", "Executable", "Readable"}},
		{"initialized data + read + write", ImageScnCntInitializedData | ImageScnMemRead | ImageScnMemWrite, []string{"Initialized Data", "Readable", "Writable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrettySectionFlags(tt.characteristics)
			if len(got) != len(tt.want) {
				t.Fatalf("PrettySectionFlags() = %v, want %v", got, tt.want)
			}
			want := make(map[string]bool, len(tt.want))
			for _, w := range tt.want {
				want[w] = true
			}
			for _, g := range got {
				if !want[g] {
					t.Errorf("unexpected flag %q in %v", g, got)
				}
			}
		})
	}
}
