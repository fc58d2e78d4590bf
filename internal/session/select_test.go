// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import "testing"

func TestSelectForReview(t *testing.T) {
	mk := func(id int64, breaking bool) HuntResult {
		return HuntResult{HuntID: id, Status: HuntCompleted, IsBreaking: breaking}
	}

	tests := []struct {
		name string
		in   []HuntResult
		want []int64
	}{
		{name: "empty", in: nil, want: nil},
		{
			name: "breaking first then by id",
			in:   []HuntResult{mk(3, false), mk(5, true), mk(1, false), mk(4, true)},
			want: []int64{4, 5, 1, 3},
		},
		{
			name: "capped at four",
			in: []HuntResult{
				mk(1, true), mk(2, true), mk(3, true), mk(4, true), mk(5, true),
			},
			want: []int64{1, 2, 3, 4},
		},
		{
			name: "failed hunts excluded",
			in: []HuntResult{
				{HuntID: 1, Status: HuntFailed},
				mk(2, false),
			},
			want: []int64{2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectForReview(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].HuntID != id {
					t.Errorf("slot %d = hunt %d, want %d", i, got[i].HuntID, id)
				}
			}
		})
	}
}

func TestBreakingResultsAndMaxHuntID(t *testing.T) {
	sess := &Session{AllResults: []HuntResult{
		{HuntID: 2, IsBreaking: true},
		{HuntID: 9},
		{HuntID: 5, IsBreaking: true},
	}}
	if got := sess.BreakingResults(); len(got) != 2 {
		t.Fatalf("breaking len = %d, want 2", len(got))
	}
	if got := sess.MaxHuntID(); got != 9 {
		t.Fatalf("max hunt id = %d, want 9", got)
	}

	empty := &Session{}
	if got := empty.MaxHuntID(); got != 0 {
		t.Fatalf("empty max hunt id = %d, want 0", got)
	}
}
