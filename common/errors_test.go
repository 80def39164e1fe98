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

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	assert := assert.New(t)

	// Plain errors carry no classification
	assert.Equal(KindUnknown, KindOf(fmt.Errorf("plain")))
	assert.Equal(KindUnknown, KindOf(nil))

	// Classification survives the error chain
	base := NewError(KindTransportDisconnect, "stream broke", fmt.Errorf("EOF"))
	assert.Equal(KindTransportDisconnect, KindOf(base))
	wrapped := fmt.Errorf("capture loop: %w", base)
	assert.Equal(KindTransportDisconnect, KindOf(wrapped))

	// Message includes the cause
	assert.Equal("stream broke: EOF", base.Error())
	withoutCause := NewError(KindNotLive, "subject offline", nil)
	assert.Equal("subject offline", withoutCause.Error())

	// Unwrap exposes the cause
	cause := fmt.Errorf("connection reset")
	err := NewError(KindUpstreamUnavailable, "fetch failed", cause)
	assert.True(errors.Is(err, cause))
}
