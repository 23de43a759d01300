// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package group

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

// TurnRunner executes single agent turns. Satisfied by agent.Executor.
type TurnRunner interface {
	Execute(ctx context.Context, req agent.TurnRequest) (*types.StepResult, error)
}

// EngineConfig configures a collaboration engine.
type EngineConfig struct {
	// Runner executes member turns (required)
	Runner TurnRunner

	Bus    *event.Bus
	Tracer observability.Tracer
	Logger *zap.Logger
}

// Engine runs group collaborations.
type Engine struct {
	runner TurnRunner
	bus    *event.Bus
	tracer observability.Tracer
	logger *zap.Logger
}

// NewEngine creates a collaboration engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Runner == nil {
		return nil, types.NewError(types.KindConfigurationError, "turn runner is required")
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Engine{
		runner: config.Runner,
		bus:    config.Bus,
		tracer: config.Tracer,
		logger: config.Logger,
	}, nil
}

// Options tune one collaboration run.
type Options struct {
	// Timeout bounds the whole session
	Timeout time.Duration

	// CorrelationID links emitted events to an enclosing workflow
	CorrelationID string
}

// Collaborate runs the group conversation until consensus, round
// limit, cancellation, or timeout. The returned session is always
// populated, also on abnormal termination.
func (e *Engine) Collaborate(ctx context.Context, g *Group, goal string, opts Options) (*Session, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	session := &Session{
		ID:        types.NewID(),
		GroupName: g.Name,
		Goal:      goal,
		Status:    types.SessionActive,
		StartedAt: time.Now(),
	}
	correlation := opts.CorrelationID
	if correlation == "" {
		correlation = session.ID
	}

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanGroupSession)
	span.SetAttribute("group", g.Name)
	span.SetAttribute("session_id", session.ID)
	span.SetAttribute("pattern", string(g.Pattern))
	defer e.tracer.EndSpan(span)

	e.emit(event.GroupSessionStarted, correlation, map[string]interface{}{
		"session_id": session.ID,
		"group":      g.Name,
		"pattern":    string(g.Pattern),
		"members":    len(g.Members),
	})
	e.logger.Info("group session started",
		zap.String("group", g.Name),
		zap.String("session_id", session.ID),
		zap.String("pattern", string(g.Pattern)),
		zap.Int("members", len(g.Members)))

	err := e.runRounds(ctx, g, goal, session, correlation)
	session.EndedAt = time.Now()
	span.RecordError(err)

	e.emit(event.GroupSessionEnded, correlation, map[string]interface{}{
		"session_id": session.ID,
		"group":      g.Name,
		"status":     string(session.Status),
		"rounds":     session.Round,
		"consensus":  session.Consensus != "",
	})
	e.logger.Info("group session ended",
		zap.String("session_id", session.ID),
		zap.String("status", string(session.Status)),
		zap.Int("rounds", session.Round),
		zap.Bool("consensus", session.Consensus != ""))
	return session, err
}

func (e *Engine) runRounds(ctx context.Context, g *Group, goal string, session *Session, correlation string) error {
	for round := 1; round <= g.MaxRounds; round++ {
		session.Round = round

		roundCtx, roundSpan := e.tracer.StartSpan(ctx, observability.SpanGroupRound)
		roundSpan.SetAttribute("round", round)
		err := e.runRound(roundCtx, g, goal, session, correlation, round)
		roundSpan.RecordError(err)
		e.tracer.EndSpan(roundSpan)
		if err != nil {
			return e.terminate(session, err)
		}

		if consensus, ok := consensusCheck(session.Messages, g.Members, g.ConsensusThreshold); ok {
			session.Status = types.SessionCompleted
			session.Consensus = consensus
			e.emit(event.GroupConsensusReached, correlation, map[string]interface{}{
				"session_id": session.ID,
				"group":      g.Name,
				"round":      round,
				"consensus":  consensus,
			})
			return nil
		}
	}

	// Round limit hit without consensus: the session completes, but the
	// absence of agreement is recorded.
	session.Status = types.SessionCompleted
	session.Failure = &types.Failure{
		Kind:    types.KindConsensusFailed,
		Message: fmt.Sprintf("no consensus after %d rounds", g.MaxRounds),
		Entity:  g.Name,
	}
	return nil
}

// runRound invokes the members due this round per the group pattern.
func (e *Engine) runRound(ctx context.Context, g *Group, goal string, session *Session, correlation string, round int) error {
	switch g.Pattern {
	case PatternCoordinator:
		return e.coordinatorRound(ctx, g, goal, session, correlation, round)
	default:
		// peer_to_peer and broadcast differ only in the prompt: peers may
		// address each other by name, broadcast responses are undirected.
		for _, member := range g.Members {
			if err := e.memberTurn(ctx, g, goal, session, correlation, member, ""); err != nil {
				return err
			}
		}
		return nil
	}
}

func (e *Engine) coordinatorRound(ctx context.Context, g *Group, goal string, session *Session, correlation string, round int) error {
	directivePrompt := fmt.Sprintf(
		"You are coordinating a group working toward this goal. Issue a directive for round %d "+
			"and name the members who should respond, from: %s.",
		round, strings.Join(g.Members, ", "))
	if err := e.memberTurn(ctx, g, goal, session, correlation, g.Coordinator, directivePrompt); err != nil {
		return err
	}

	directive := session.Messages[len(session.Messages)-1].Text()
	selected := selectMembers(directive, g.Members)
	for _, member := range selected {
		if err := e.memberTurn(ctx, g, goal, session, correlation, member, directive); err != nil {
			return err
		}
	}
	return nil
}

// memberTurn runs one member's turn and appends the response.
func (e *Engine) memberTurn(ctx context.Context, g *Group, goal string, session *Session, correlation, member, directive string) error {
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.KindOf(err), err, "group session interrupted")
	}

	result, err := e.runner.Execute(ctx, agent.TurnRequest{
		AgentName:     member,
		Task:          buildTask(g, goal, session.Messages, member, directive),
		CorrelationID: correlation,
	})
	if result != nil {
		session.Usage.Add(result.Usage)
	}
	if err != nil {
		return types.WrapError(types.KindOf(err), err,
			"member %q failed in group %q", member, g.Name)
	}

	text, _ := result.Output.(string)
	performative, content := ParsePerformative(text)
	msg := types.Message{
		Role:         types.RoleAssistant,
		Sender:       member,
		Performative: performative,
		Timestamp:    time.Now(),
		Parts:        []types.ContentPart{{Kind: types.PartText, Text: content}},
	}
	session.Messages = append(session.Messages, msg)

	e.emit(event.GroupMessagePosted, correlation, map[string]interface{}{
		"session_id":   session.ID,
		"group":        g.Name,
		"sender":       member,
		"performative": string(performative),
		"round":        session.Round,
	})
	return nil
}

// terminate maps an error onto the session's terminal state.
func (e *Engine) terminate(session *Session, err error) error {
	switch types.KindOf(err) {
	case types.KindCancelled:
		session.Status = types.SessionCancelled
	case types.KindTimeout:
		session.Status = types.SessionTimeout
	default:
		session.Status = types.SessionCancelled
	}
	session.Failure = types.FailureOf(err)
	return err
}

func (e *Engine) emit(kind event.Kind, correlation string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(kind, correlation, payload)
}

// buildTask renders the member prompt: goal, transcript, and the
// performative protocol.
func buildTask(g *Group, goal string, messages []types.Message, member, directive string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", goal)

	if directive != "" {
		if member == g.Coordinator {
			fmt.Fprintf(&b, "%s\n\n", directive)
		} else {
			fmt.Fprintf(&b, "Coordinator directive: %s\n\n", directive)
		}
	}
	if len(messages) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range messages {
			fmt.Fprintf(&b, "[%s] %s: %s\n", msg.Performative, msg.Sender, msg.Text())
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with your position, opening with one of the performatives " +
		"PROPOSE, AGREE, DISAGREE, CONFIRM, INFORM, REQUEST, QUERY, or REFUSE, " +
		"followed by a colon.")
	if g.Pattern == PatternPeerToPeer {
		b.WriteString(" You may address other members by name.")
	}
	return b.String()
}

// selectMembers extracts the members named in a coordinator directive,
// in group order.
func selectMembers(directive string, members []string) []string {
	lower := strings.ToLower(directive)
	var selected []string
	for _, member := range members {
		if strings.Contains(lower, strings.ToLower(member)) {
			selected = append(selected, member)
		}
	}
	return selected
}
