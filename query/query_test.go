// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package query

import "testing"

func TestComparatorApply(t *testing.T) {
	cases := []struct {
		c         Comparator
		v, t      float64
		want      bool
	}{
		{LT, 1, 2, true},
		{LT, 2, 2, false},
		{LE, 2, 2, true},
		{EQ, 2, 2, true},
		{EQ, 2, 3, false},
		{GE, 2, 2, true},
		{GT, 3, 2, true},
		{GT, 2, 2, false},
	}
	for _, tc := range cases {
		if got := tc.c.Apply(tc.v, tc.t); got != tc.want {
			t.Errorf("%v.Apply(%v, %v) = %v, want %v", tc.c, tc.v, tc.t, got, tc.want)
		}
	}
}

func TestParseComparatorRejectsUnknown(t *testing.T) {
	if _, err := ParseComparator("~="); err == nil {
		t.Fatal("expected error for unknown comparator")
	}
}

func TestNewOriginAssignsUID(t *testing.T) {
	r := NewOrigin("PM2.5", GT, 35, 5)
	if r.UID == "" {
		t.Fatal("expected non-empty UID")
	}
	if len(r.Hops) != 0 {
		t.Fatalf("expected empty hops on origin, got %v", r.Hops)
	}
}

func TestAppendSelfAndWithLimit(t *testing.T) {
	r := NewOrigin("PM2.5", GT, 35, 5)
	r.Hops = append(r.Hops, "A")
	self := r.AppendSelf("B")
	fwd := self.WithLimit(3)

	if fwd.UID != r.UID {
		t.Fatalf("UID changed across forward: %s != %s", fwd.UID, r.UID)
	}
	if len(fwd.Hops) != 2 || fwd.Hops[0] != "A" || fwd.Hops[1] != "B" {
		t.Fatalf("unexpected hops: %v", fwd.Hops)
	}
	if fwd.Limit != 3 {
		t.Fatalf("expected reduced limit 3, got %d", fwd.Limit)
	}
	// mutating the forward's hops must not alias the parent's slice
	fwd.Hops[0] = "Z"
	if r.Hops[0] != "A" {
		t.Fatal("AppendSelf aliased the parent's hops slice")
	}
}

func TestHasVisitedIgnoresUnreachableMarker(t *testing.T) {
	r := &Record{Hops: []string{"A", MarkUnreachable("F")}}
	if r.HasVisited("F") {
		t.Fatal("unreachable marker should not satisfy loop-guard membership")
	}
	if !r.HasVisited("A") {
		t.Fatal("expected A to be visited")
	}
}
