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

// Package agent executes single agent turns: transcript assembly,
// provider completion, tool dispatch, and usage accounting. Agents are
// per-execution entities created at turn start and discarded at turn
// end.
package agent

import (
	"time"

	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
)

// Agent is the live entity for one turn.
type Agent struct {
	// ExecutionID is the turn's ULID
	ExecutionID string

	// Spec is the resolved definition the turn runs under
	Spec *spec.EffectiveSpec

	Status     types.AgentStatus
	Transcript []types.Message
	Usage      types.Usage

	StartedAt time.Time
	EndedAt   time.Time
}

// newAgent creates the live entity at turn start.
func newAgent(eff *spec.EffectiveSpec) *Agent {
	return &Agent{
		ExecutionID: types.NewID(),
		Spec:        eff,
		Status:      types.AgentIdle,
		StartedAt:   time.Now(),
	}
}

// append adds a message to the transcript, stamping the time when the
// message carries none.
func (a *Agent) append(msg types.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	a.Transcript = append(a.Transcript, msg)
}
