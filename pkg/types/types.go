// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the weft runtime.
// This package breaks import cycles by providing the domain model that
// the registry, executor, workflow, and collaboration packages depend on.
package types

import (
	"regexp"
	"time"
)

// Role identifies the sender class of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind identifies the payload type of a content part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartJSON       PartKind = "json"
	PartCode       PartKind = "code"
	PartImageRef   PartKind = "image_ref"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// ID is a unique identifier for this tool call, used to bind results
	ID string

	// Name is the tool name
	Name string

	// Input contains the tool parameters as decoded JSON
	Input map[string]interface{}
}

// ToolResult carries the outcome of a tool invocation back into the transcript.
type ToolResult struct {
	// CallID binds this result to the originating tool call
	CallID string

	// Content is the result payload, JSON-encoded for structured data
	Content string

	// IsError marks results that describe a tool failure
	IsError bool
}

// ContentPart is one ordered element of a message body.
type ContentPart struct {
	Kind PartKind

	// Text carries text, json, and code payloads
	Text string

	// ImageRef is an opaque reference to image data (when Kind is image_ref)
	ImageRef string

	// ToolCall is set when Kind is tool_call
	ToolCall *ToolCall

	// ToolResult is set when Kind is tool_result
	ToolResult *ToolResult
}

// Performative is the FIPA-inspired label attached to group messages.
// Only these values participate in consensus detection.
type Performative string

const (
	PerformativeInform   Performative = "inform"
	PerformativeRequest  Performative = "request"
	PerformativePropose  Performative = "propose"
	PerformativeAgree    Performative = "agree"
	PerformativeDisagree Performative = "disagree"
	PerformativeQuery    Performative = "query"
	PerformativeConfirm  Performative = "confirm"
	PerformativeRefuse   Performative = "refuse"
)

// ValidPerformative reports whether p is one of the recognized performatives.
func ValidPerformative(p Performative) bool {
	switch p {
	case PerformativeInform, PerformativeRequest, PerformativePropose,
		PerformativeAgree, PerformativeDisagree, PerformativeQuery,
		PerformativeConfirm, PerformativeRefuse:
		return true
	}
	return false
}

// Message is a single entry in a conversation transcript.
// Messages are append-only: once added to a transcript they are never mutated.
type Message struct {
	// Role is the message sender class
	Role Role

	// Parts is the ordered message body
	Parts []ContentPart

	// Sender identifies the agent or member that produced the message
	Sender string

	// Performative labels group-collaboration messages (empty elsewhere)
	Performative Performative

	// ToolCallID binds a tool-role message to the call it answers
	ToolCallID string

	// Timestamp when the message was created
	Timestamp time.Time
}

// Text returns the concatenated text, json, and code parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		switch p.Kind {
		case PartText, PartJSON, PartCode:
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns all tool-call parts of the message in order.
func (m Message) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, p := range m.Parts {
		if p.Kind == PartToolCall && p.ToolCall != nil {
			calls = append(calls, p.ToolCall)
		}
	}
	return calls
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, sender, text string) Message {
	return Message{
		Role:      role,
		Sender:    sender,
		Parts:     []ContentPart{{Kind: PartText, Text: text}},
		Timestamp: time.Now(),
	}
}

// Usage tracks token consumption for an agent turn or an aggregate.
// Pricing is intentionally out of scope: observers apply their own models
// to the raw counts.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// AgentStatus is the lifecycle state of a live agent.
type AgentStatus string

const (
	AgentIdle             AgentStatus = "idle"
	AgentRunning          AgentStatus = "running"
	AgentAwaitingTool     AgentStatus = "awaiting_tool"
	AgentAwaitingApproval AgentStatus = "awaiting_approval"
	AgentFailed           AgentStatus = "failed"
	AgentCompleted        AgentStatus = "completed"
)

// StepStatus is the state of a single workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// Terminal reports whether the step status is final. A terminal step's
// output is frozen.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCancelled:
		return true
	}
	return false
}

// WorkflowStatus is the aggregate state of a workflow execution.
type WorkflowStatus string

const (
	WorkflowPending          WorkflowStatus = "pending"
	WorkflowRunning          WorkflowStatus = "running"
	WorkflowAwaitingApproval WorkflowStatus = "awaiting_approval"
	WorkflowCompleted        WorkflowStatus = "completed"
	WorkflowFailed           WorkflowStatus = "failed"
	WorkflowCancelled        WorkflowStatus = "cancelled"
	WorkflowTimeout          WorkflowStatus = "timeout"
)

// Terminal reports whether the workflow status is final.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled, WorkflowTimeout:
		return true
	}
	return false
}

// SessionStatus is the state of a group collaboration session.
type SessionStatus string

const (
	SessionActive           SessionStatus = "active"
	SessionAwaitingApproval SessionStatus = "awaiting_approval"
	SessionCompleted        SessionStatus = "completed"
	SessionCancelled        SessionStatus = "cancelled"
	SessionTimeout          SessionStatus = "timeout"
)

// Terminal reports whether the session status is final.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionTimeout:
		return true
	}
	return false
}

// SandboxState is the lifecycle state of an isolated execution environment.
type SandboxState string

const (
	SandboxProvisioning SandboxState = "provisioning"
	SandboxReady        SandboxState = "ready"
	SandboxExecuting    SandboxState = "executing"
	SandboxSuspended    SandboxState = "suspended"
	SandboxDestroyed    SandboxState = "destroyed"
)

// ReviewState is the state of a human-approval request.
type ReviewState string

const (
	ReviewPending  ReviewState = "pending"
	ReviewApproved ReviewState = "approved"
	ReviewRejected ReviewState = "rejected"
	ReviewExpired  ReviewState = "expired"
)

// Terminal reports whether the review has resolved. Expiry resolves a
// review; the decision reads as rejection.
func (s ReviewState) Terminal() bool {
	switch s {
	case ReviewApproved, ReviewRejected, ReviewExpired:
		return true
	}
	return false
}

// StepResult is the outcome of a single dispatched unit of work: an agent
// turn, a group session, or a direct tool call.
type StepResult struct {
	// Status is the terminal step status
	Status StepStatus

	// Output is the produced value (final text for agents, consensus for
	// groups, tool result data for tools)
	Output interface{}

	// Usage aggregates token consumption across the unit
	Usage Usage

	// Transcript is the conversation produced by the unit, if any
	Transcript []Message

	// Failure describes the error when Status is failed
	Failure *Failure
}

// Failure is the user-visible failure record carried on results and
// execution contexts. No stack traces: kind, message, entity, and an
// optional remediation hint only.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	// Entity is the offending entity id (step id, tool name, sandbox id)
	Entity string `json:"entity,omitempty"`

	// Hint suggests a remediation, when one is known
	Hint string `json:"hint,omitempty"`
}

var nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidName reports whether s is a legal caller-supplied name for agents,
// workflows, groups, and tools: [a-z0-9][a-z0-9_-]*, 1-64 characters.
func ValidName(s string) bool {
	return len(s) >= 1 && len(s) <= 64 && nameRE.MatchString(s)
}
