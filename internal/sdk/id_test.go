/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sdk

import "testing"

func TestGenerateInstanceIDIsUniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateInstanceID()
		if id[:5] != "inst-" {
			t.Fatalf("expected instance ID prefix %q, got %q", "inst-", id)
		}
		if seen[id] {
			t.Fatalf("generated duplicate instance ID %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateQueryIDIsUniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateQueryID()
		if id[:4] != "qry-" {
			t.Fatalf("expected query ID prefix %q, got %q", "qry-", id)
		}
		if seen[id] {
			t.Fatalf("generated duplicate query ID %q", id)
		}
		seen[id] = true
	}
}
