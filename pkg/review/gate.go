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

// Package review implements the human-approval checkpoint. Execution
// suspends on flagged artifacts until reviewers decide or the request
// expires; expiry counts as rejection.
package review

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

// Artifact is the unit under review.
type Artifact struct {
	// ID identifies the artifact (step id, sandbox command id)
	ID string

	// Kind classifies the artifact ("shell_command", "file_write", "plan")
	Kind string

	// Content is the reviewable payload
	Content string

	// Creator names the agent or workflow that produced the artifact
	Creator string
}

// Policy controls how a review request resolves.
type Policy struct {
	// MinApprovals is the approval count required to approve; 1 when zero
	MinApprovals int

	// Reviewers lists who may decide; empty means anyone
	Reviewers []string

	// AutoApproveLowRisk approves immediately when the artifact matches
	// no high-risk pattern
	AutoApproveLowRisk bool

	// Timeout expires the request after this duration; 0 means no expiry
	Timeout time.Duration

	// HighRiskPatterns override the defaults when non-empty
	HighRiskPatterns []*regexp.Regexp
}

// Default high-risk patterns: destructive shell verbs, writes outside
// a project tree, and secret-bearing files.
var defaultHighRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*f[a-zA-Z]*|--force)`),
	regexp.MustCompile(`\b(mkfs|dd\s+if=|shutdown|reboot)\b`),
	regexp.MustCompile(`(?i)\bdrop\s+(table|database)\b`),
	regexp.MustCompile(`(?i)\btruncate\s+table\b`),
	regexp.MustCompile(`(^|\s)/(etc|usr|bin|sbin|boot|var)/`),
	regexp.MustCompile(`(?i)(\.env\b|id_rsa|credentials|\.pem\b|secret)`),
}

// Decision is the outcome of a review.
type Decision struct {
	ReviewID string
	State    types.ReviewState
	Records  []DecisionRecord
}

// Approved reports whether execution may proceed.
func (d Decision) Approved() bool { return d.State == types.ReviewApproved }

// DecisionRecord is one reviewer's verdict.
type DecisionRecord struct {
	Reviewer  string
	Approved  bool
	Comment   string
	Timestamp time.Time
}

// Request is an in-flight review.
type Request struct {
	ID        string
	Artifact  Artifact
	Policy    Policy
	State     types.ReviewState
	Records   []DecisionRecord
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Gate tracks review requests and signals waiters on resolution.
type Gate struct {
	mu       sync.Mutex
	requests map[string]*Request
	waiters  map[string][]chan Decision
	bus      *event.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewGate creates a review gate. The bus may be nil when no event
// observers are wired.
func NewGate(bus *event.Bus, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		requests: make(map[string]*Request),
		waiters:  make(map[string][]chan Decision),
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Request registers an artifact for review and returns the review id.
// Low-risk artifacts auto-approve when the policy allows it.
func (g *Gate) Request(artifact Artifact, policy Policy) (string, error) {
	if policy.MinApprovals <= 0 {
		policy.MinApprovals = 1
	}

	req := &Request{
		ID:        types.NewID(),
		Artifact:  artifact,
		Policy:    policy,
		State:     types.ReviewPending,
		CreatedAt: g.now(),
	}
	if policy.Timeout > 0 {
		req.ExpiresAt = req.CreatedAt.Add(policy.Timeout)
	}

	if policy.AutoApproveLowRisk && !g.highRisk(artifact, policy) {
		req.State = types.ReviewApproved
		req.Records = append(req.Records, DecisionRecord{
			Reviewer:  "auto",
			Approved:  true,
			Comment:   "low-risk artifact auto-approved",
			Timestamp: req.CreatedAt,
		})
	}

	g.mu.Lock()
	g.requests[req.ID] = req
	g.mu.Unlock()

	g.emit(event.ReviewRequested, req)
	if req.State == types.ReviewApproved {
		g.emit(event.ReviewResolved, req)
	}

	g.logger.Info("review requested",
		zap.String("review_id", req.ID),
		zap.String("artifact_kind", artifact.Kind),
		zap.String("state", string(req.State)))
	return req.ID, nil
}

// Approve records an approval. The request resolves once min_approvals
// distinct reviewers have approved.
func (g *Gate) Approve(reviewID, reviewer, comment string) error {
	return g.decide(reviewID, reviewer, comment, true)
}

// Reject records a rejection. Any rejection resolves the request.
func (g *Gate) Reject(reviewID, reviewer, comment string) error {
	return g.decide(reviewID, reviewer, comment, false)
}

func (g *Gate) decide(reviewID, reviewer, comment string, approved bool) error {
	g.mu.Lock()
	req, ok := g.requests[reviewID]
	if !ok {
		g.mu.Unlock()
		return types.NewError(types.KindNotFound, "review %q not found", reviewID).WithEntity(reviewID)
	}
	if req.State.Terminal() {
		g.mu.Unlock()
		return types.NewError(types.KindBadRequest,
			"review %q already resolved as %s", reviewID, req.State)
	}
	if len(req.Policy.Reviewers) > 0 && !containsString(req.Policy.Reviewers, reviewer) {
		g.mu.Unlock()
		return types.NewError(types.KindPolicyDenied,
			"%q is not a designated reviewer for review %q", reviewer, reviewID)
	}
	for _, record := range req.Records {
		if record.Reviewer == reviewer {
			g.mu.Unlock()
			return types.NewError(types.KindDuplicateName,
				"reviewer %q already decided on review %q", reviewer, reviewID)
		}
	}

	req.Records = append(req.Records, DecisionRecord{
		Reviewer:  reviewer,
		Approved:  approved,
		Comment:   comment,
		Timestamp: g.now(),
	})

	resolved := false
	if !approved {
		req.State = types.ReviewRejected
		resolved = true
	} else if approvalCount(req.Records) >= req.Policy.MinApprovals {
		req.State = types.ReviewApproved
		resolved = true
	}

	var decision Decision
	var waiters []chan Decision
	if resolved {
		decision = snapshotDecision(req)
		waiters = g.waiters[reviewID]
		delete(g.waiters, reviewID)
	}
	g.mu.Unlock()

	if resolved {
		for _, ch := range waiters {
			ch <- decision
		}
		g.emit(event.ReviewResolved, req)
		g.logger.Info("review resolved",
			zap.String("review_id", reviewID),
			zap.String("state", string(req.State)))
	}
	return nil
}

// WaitFor blocks until the review resolves, the deadline passes, or
// ctx is cancelled. A passed deadline expires the request and the
// returned decision reads as rejection.
func (g *Gate) WaitFor(ctx context.Context, reviewID string, deadline time.Time) (Decision, error) {
	g.mu.Lock()
	req, ok := g.requests[reviewID]
	if !ok {
		g.mu.Unlock()
		return Decision{}, types.NewError(types.KindNotFound, "review %q not found", reviewID)
	}
	if req.State.Terminal() {
		decision := snapshotDecision(req)
		g.mu.Unlock()
		return decision, nil
	}

	if !req.ExpiresAt.IsZero() && (deadline.IsZero() || req.ExpiresAt.Before(deadline)) {
		deadline = req.ExpiresAt
	}

	ch := make(chan Decision, 1)
	g.waiters[reviewID] = append(g.waiters[reviewID], ch)
	g.mu.Unlock()

	var timer <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timer = t.C
	}

	select {
	case decision := <-ch:
		return decision, nil
	case <-timer:
		return g.expire(reviewID, ch), nil
	case <-ctx.Done():
		g.removeWaiter(reviewID, ch)
		return Decision{}, types.WrapError(types.KindOf(ctx.Err()), ctx.Err(),
			"wait on review %q interrupted", reviewID)
	}
}

// expire marks the request expired unless a decision raced ahead.
func (g *Gate) expire(reviewID string, ch chan Decision) Decision {
	g.mu.Lock()
	req, ok := g.requests[reviewID]
	if !ok {
		g.mu.Unlock()
		return Decision{ReviewID: reviewID, State: types.ReviewExpired}
	}
	// A decision may have landed between timer fire and lock acquisition.
	select {
	case decision := <-ch:
		g.mu.Unlock()
		return decision
	default:
	}
	if !req.State.Terminal() {
		req.State = types.ReviewExpired
	}
	decision := snapshotDecision(req)
	g.removeWaiterLocked(reviewID, ch)
	g.mu.Unlock()

	if decision.State == types.ReviewExpired {
		g.emit(event.ReviewResolved, req)
		g.logger.Warn("review expired", zap.String("review_id", reviewID))
	}
	return decision
}

// Get returns a copy of the request.
func (g *Gate) Get(reviewID string) (Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.requests[reviewID]
	if !ok {
		return Request{}, types.NewError(types.KindNotFound, "review %q not found", reviewID)
	}
	out := *req
	out.Records = append([]DecisionRecord(nil), req.Records...)
	return out, nil
}

// Pending lists unresolved review ids, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Request
	for _, req := range g.requests {
		if !req.State.Terminal() {
			out = append(out, *req)
		}
	}
	sortRequests(out)
	return out
}

func (g *Gate) highRisk(artifact Artifact, policy Policy) bool {
	patterns := policy.HighRiskPatterns
	if len(patterns) == 0 {
		patterns = defaultHighRiskPatterns
	}
	for _, pattern := range patterns {
		if pattern.MatchString(artifact.Content) {
			return true
		}
	}
	return false
}

func (g *Gate) emit(kind event.Kind, req *Request) {
	if g.bus == nil {
		return
	}
	g.bus.Emit(kind, req.ID, map[string]interface{}{
		"review_id":     req.ID,
		"artifact_id":   req.Artifact.ID,
		"artifact_kind": req.Artifact.Kind,
		"state":         string(req.State),
	})
}

func (g *Gate) removeWaiter(reviewID string, ch chan Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeWaiterLocked(reviewID, ch)
}

func (g *Gate) removeWaiterLocked(reviewID string, ch chan Decision) {
	waiters := g.waiters[reviewID]
	for i, w := range waiters {
		if w == ch {
			g.waiters[reviewID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(g.waiters[reviewID]) == 0 {
		delete(g.waiters, reviewID)
	}
}

func snapshotDecision(req *Request) Decision {
	return Decision{
		ReviewID: req.ID,
		State:    req.State,
		Records:  append([]DecisionRecord(nil), req.Records...),
	}
}

func approvalCount(records []DecisionRecord) int {
	n := 0
	for _, r := range records {
		if r.Approved {
			n++
		}
	}
	return n
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func sortRequests(reqs []Request) {
	for i := 1; i < len(reqs); i++ {
		for j := i; j > 0 && reqs[j].CreatedAt.Before(reqs[j-1].CreatedAt); j-- {
			reqs[j], reqs[j-1] = reqs[j-1], reqs[j]
		}
	}
}
