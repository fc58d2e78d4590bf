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

import "sort"

// MaxReviewSlots 人工审核页展示的结果槽位数上限
const MaxReviewSlots = 4

// SelectForReview 从累积结果中挑选进入人工审核页的结果：
// breaking 优先，组内按 hunt_id 升序，最多 MaxReviewSlots 条
func SelectForReview(all []HuntResult) []HuntResult {
	breaking := make([]HuntResult, 0, len(all))
	rest := make([]HuntResult, 0, len(all))
	for _, r := range all {
		if r.IsBreaking {
			breaking = append(breaking, r)
		} else if r.Status == HuntCompleted {
			rest = append(rest, r)
		}
	}
	byID := func(rs []HuntResult) {
		sort.Slice(rs, func(i, j int) bool { return rs[i].HuntID < rs[j].HuntID })
	}
	byID(breaking)
	byID(rest)

	out := make([]HuntResult, 0, MaxReviewSlots)
	for _, r := range breaking {
		if len(out) == MaxReviewSlots {
			return out
		}
		out = append(out, r)
	}
	for _, r := range rest {
		if len(out) == MaxReviewSlots {
			return out
		}
		out = append(out, r)
	}
	return out
}
