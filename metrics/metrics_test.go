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

package metrics

import (
	"testing"
	"time"
)

func TestAdmitReleasePairing(t *testing.T) {
	tr := New("A", "leader", "green", nil)
	tr.Admitted()
	tr.Admitted()
	if got := tr.Snapshot().ActiveRequests; got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
	tr.Released(true)
	tr.Released(false)
	if got := tr.Snapshot().ActiveRequests; got != 0 {
		t.Fatalf("active = %d, want 0 after release", got)
	}
}

func TestRollingAverageEndToEnd(t *testing.T) {
	tr := New("B", "team_leader", "green", nil)
	tr.ObserveEndToEnd(10 * time.Millisecond)
	tr.ObserveEndToEnd(30 * time.Millisecond)
	avg := tr.Snapshot().AvgProcessingMs
	if avg < 19 || avg > 21 {
		t.Fatalf("avg processing = %v, want ~20ms", avg)
	}
}

func TestLoadFactor(t *testing.T) {
	tr := New("C", "worker", "green", nil)
	tr.Admitted()
	if got := tr.LoadFactor(4); got != 0.25 {
		t.Fatalf("load factor = %v, want 0.25", got)
	}
	if got := tr.LoadFactor(0); got != 0 {
		t.Fatalf("load factor with zero capacity = %v, want 0", got)
	}
}
