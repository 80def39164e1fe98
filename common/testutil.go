// Copyright 2025-2026 The livecap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "os"

// GetUnitTestNatsURI NATS server URI used by unit tests
func GetUnitTestNatsURI() string {
	if fromEnv, ok := os.LookupEnv("UNIT_TEST_NATS_URI"); ok {
		return fromEnv
	}
	return "nats://127.0.0.1:4222"
}
