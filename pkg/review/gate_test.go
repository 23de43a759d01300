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

package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap/zaptest"
)

func newTestGate(t *testing.T) *Gate {
	return NewGate(nil, zaptest.NewLogger(t))
}

func TestAutoApproveLowRisk(t *testing.T) {
	gate := newTestGate(t)

	id, err := gate.Request(
		Artifact{ID: "step-1", Kind: "shell_command", Content: "ls -la /workspace"},
		Policy{AutoApproveLowRisk: true})
	require.NoError(t, err)

	req, err := gate.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewApproved, req.State)
	require.Len(t, req.Records, 1)
	assert.Equal(t, "auto", req.Records[0].Reviewer)
}

func TestHighRiskNeverAutoApproves(t *testing.T) {
	gate := newTestGate(t)

	risky := []string{
		"rm -rf /workspace/build",
		"dd if=/dev/zero of=/dev/sda",
		"DROP TABLE users",
		"cat /etc/shadow",
		"echo secret > .env",
	}
	for _, content := range risky {
		id, err := gate.Request(
			Artifact{Kind: "shell_command", Content: content},
			Policy{AutoApproveLowRisk: true})
		require.NoError(t, err)

		req, err := gate.Get(id)
		require.NoError(t, err)
		assert.Equal(t, types.ReviewPending, req.State, "content %q must stay pending", content)
	}
}

func TestApprovalThreshold(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan", Content: "deploy"}, Policy{MinApprovals: 2})
	require.NoError(t, err)

	require.NoError(t, gate.Approve(id, "alice", "lgtm"))
	req, err := gate.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewPending, req.State, "one of two approvals is not enough")

	require.NoError(t, gate.Approve(id, "bob", "ship it"))
	req, err = gate.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewApproved, req.State)
}

func TestAnyRejectionResolves(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan"}, Policy{MinApprovals: 3})
	require.NoError(t, err)

	require.NoError(t, gate.Approve(id, "alice", ""))
	require.NoError(t, gate.Reject(id, "bob", "too risky"))

	req, err := gate.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewRejected, req.State)

	err = gate.Approve(id, "carol", "late")
	require.Error(t, err, "resolved reviews accept no further decisions")
	assert.Equal(t, types.KindBadRequest, types.KindOf(err))
}

func TestDuplicateReviewerRejected(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan"}, Policy{MinApprovals: 2})
	require.NoError(t, err)

	require.NoError(t, gate.Approve(id, "alice", ""))
	err = gate.Approve(id, "alice", "again")
	require.Error(t, err)
	assert.Equal(t, types.KindDuplicateName, types.KindOf(err))
}

func TestDesignatedReviewersOnly(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan"},
		Policy{Reviewers: []string{"alice", "bob"}})
	require.NoError(t, err)

	err = gate.Approve(id, "mallory", "")
	require.Error(t, err)
	assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))

	require.NoError(t, gate.Approve(id, "alice", ""))
}

func TestWaitForSignalsOnDecision(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan"}, Policy{})
	require.NoError(t, err)

	done := make(chan Decision, 1)
	go func() {
		decision, err := gate.WaitFor(context.Background(), id, time.Time{})
		assert.NoError(t, err)
		done <- decision
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, gate.Approve(id, "alice", "ok"))

	select {
	case decision := <-done:
		assert.True(t, decision.Approved())
		require.Len(t, decision.Records, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not signalled")
	}
}

func TestWaitForDeadlineExpires(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan"}, Policy{})
	require.NoError(t, err)

	decision, err := gate.WaitFor(context.Background(), id, time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, types.ReviewExpired, decision.State)
	assert.False(t, decision.Approved(), "expiry reads as rejection")

	req, err := gate.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewExpired, req.State)
}

func TestWaitForAlreadyResolved(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan"}, Policy{})
	require.NoError(t, err)
	require.NoError(t, gate.Reject(id, "alice", "no"))

	decision, err := gate.WaitFor(context.Background(), id, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, types.ReviewRejected, decision.State)
}

func TestWaitForCancelledContext(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan"}, Policy{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = gate.WaitFor(ctx, id, time.Time{})
	require.Error(t, err)
	assert.Equal(t, types.KindCancelled, types.KindOf(err))

	// The request itself stays pending; cancellation affects only the
	// waiter.
	req, err := gate.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewPending, req.State)
}

func TestPolicyTimeoutBoundsDeadline(t *testing.T) {
	gate := newTestGate(t)
	id, err := gate.Request(Artifact{Kind: "plan"},
		Policy{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	decision, err := gate.WaitFor(context.Background(), id, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.ReviewExpired, decision.State)
	assert.Less(t, time.Since(start), time.Second, "policy timeout must win over a later deadline")
}

func TestPendingListsUnresolved(t *testing.T) {
	gate := newTestGate(t)
	first, err := gate.Request(Artifact{Kind: "plan", ID: "a"}, Policy{})
	require.NoError(t, err)
	second, err := gate.Request(Artifact{Kind: "plan", ID: "b"}, Policy{})
	require.NoError(t, err)
	require.NoError(t, gate.Approve(first, "alice", ""))

	pending := gate.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)
}

func TestUnknownReviewID(t *testing.T) {
	gate := newTestGate(t)
	err := gate.Approve("01ARZ3NDEKTSV4RRFFQ69G5FAV", "alice", "")
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))

	_, err = gate.WaitFor(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV", time.Time{})
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}
