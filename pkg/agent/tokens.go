// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/teradata-labs/weft/pkg/types"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateTokens approximates the token count of a message list for
// providers that report no usage. Uses cl100k_base when available;
// falls back to a bytes/4 heuristic when the encoding cannot load.
func estimateTokens(messages []types.Message) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})

	total := 0
	for _, msg := range messages {
		text := msg.Text()
		if text == "" {
			continue
		}
		if encoding != nil {
			total += len(encoding.Encode(text, nil, nil))
		} else {
			total += len(text) / 4
		}
		// Rough per-message framing overhead.
		total += 4
	}
	return total
}
