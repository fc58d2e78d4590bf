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

import "strings"

// MetadataTrainerKey notebook 元数据中记录创建者（trainer）邮箱的 key
const MetadataTrainerKey = "trainer"

// ReviewACL 审核可见范围：admin 可见全部 session；普通 reviewer 只能看到
// 其 trainer pod 允许名单内 trainer 创建的 session；名单外的 reviewer 看不到任何 session。
// 邮箱比较不区分大小写。
type ReviewACL struct {
	Admins []string            // admin reviewer 邮箱
	Pods   map[string][]string // reviewer 邮箱 -> 允许的 trainer 邮箱
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// allowedTrainers 返回该 reviewer 的可见 trainer 集合；admin 为 true 时集合无意义
func (a ReviewACL) allowedTrainers(reviewerEmail string) (map[string]struct{}, bool) {
	email := normalizeEmail(reviewerEmail)
	if email == "" {
		return nil, false
	}
	for _, ad := range a.Admins {
		if normalizeEmail(ad) == email {
			return nil, true
		}
	}
	trainers := make(map[string]struct{})
	for reviewer, list := range a.Pods {
		if normalizeEmail(reviewer) != email {
			continue
		}
		for _, t := range list {
			if nt := normalizeEmail(t); nt != "" {
				trainers[nt] = struct{}{}
			}
		}
	}
	return trainers, false
}

// visibleNotebook 判定某 notebook 对给定可见范围是否可见；
// 无主 session（元数据缺 trainer）仅 admin 可见
func visibleNotebook(admin bool, allowed map[string]struct{}, nb Notebook) bool {
	if admin {
		return true
	}
	trainer := normalizeEmail(nb.Metadata[MetadataTrainerKey])
	if trainer == "" {
		return false
	}
	_, ok := allowed[trainer]
	return ok
}
