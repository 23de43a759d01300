// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package group runs bounded multi-agent conversations to consensus or
// round limit. Three routing patterns are supported: peer_to_peer,
// broadcast, and coordinator.
package group

import (
	"time"

	"github.com/teradata-labs/weft/pkg/types"
)

// Pattern is the message routing discipline for a group.
type Pattern string

const (
	PatternPeerToPeer  Pattern = "peer_to_peer"
	PatternBroadcast   Pattern = "broadcast"
	PatternCoordinator Pattern = "coordinator"
)

// Group is a declarative collaboration definition.
type Group struct {
	// Name uniquely identifies the group
	Name string `yaml:"name"`

	// Pattern selects the routing discipline
	Pattern Pattern `yaml:"pattern"`

	// Members are agent names participating in the session
	Members []string `yaml:"members"`

	// Coordinator is the directing agent; required iff pattern is
	// coordinator
	Coordinator string `yaml:"coordinator,omitempty"`

	// ConsensusThreshold is the agreement ratio in (0, 1] that completes
	// the session
	ConsensusThreshold float64 `yaml:"consensus_threshold"`

	// MaxRounds bounds the conversation
	MaxRounds int `yaml:"max_rounds"`
}

// Validate checks the group definition.
func (g *Group) Validate() error {
	if !types.ValidName(g.Name) {
		return types.NewError(types.KindInvalidGroup,
			"group name %q must match [a-z0-9][a-z0-9_-]* (1-64 chars)", g.Name)
	}
	switch g.Pattern {
	case PatternPeerToPeer, PatternBroadcast, PatternCoordinator:
	default:
		return types.NewError(types.KindInvalidGroup,
			"group %q has unknown pattern %q", g.Name, g.Pattern).WithEntity(g.Name)
	}
	if len(g.Members) < 2 {
		return types.NewError(types.KindInvalidGroup,
			"group %q needs at least 2 members, has %d", g.Name, len(g.Members)).WithEntity(g.Name)
	}
	seen := make(map[string]bool, len(g.Members))
	for _, member := range g.Members {
		if !types.ValidName(member) {
			return types.NewError(types.KindInvalidGroup,
				"member name %q of group %q is malformed", member, g.Name).WithEntity(g.Name)
		}
		if seen[member] {
			return types.NewError(types.KindInvalidGroup,
				"member %q appears twice in group %q", member, g.Name).WithEntity(g.Name)
		}
		seen[member] = true
	}
	if g.Pattern == PatternCoordinator {
		if g.Coordinator == "" {
			return types.NewError(types.KindInvalidGroup,
				"group %q uses the coordinator pattern but names no coordinator", g.Name).
				WithEntity(g.Name)
		}
		if !types.ValidName(g.Coordinator) {
			return types.NewError(types.KindInvalidGroup,
				"coordinator name %q of group %q is malformed", g.Coordinator, g.Name).
				WithEntity(g.Name)
		}
	} else if g.Coordinator != "" {
		return types.NewError(types.KindInvalidGroup,
			"group %q declares a coordinator but uses pattern %q", g.Name, g.Pattern).
			WithEntity(g.Name)
	}
	if g.ConsensusThreshold <= 0 || g.ConsensusThreshold > 1 {
		return types.NewError(types.KindInvalidGroup,
			"consensus threshold %v of group %q outside (0, 1]", g.ConsensusThreshold, g.Name).
			WithEntity(g.Name)
	}
	if g.MaxRounds <= 0 {
		return types.NewError(types.KindInvalidGroup,
			"group %q needs max_rounds >= 1, has %d", g.Name, g.MaxRounds).WithEntity(g.Name)
	}
	return nil
}

// Session is one live collaboration.
type Session struct {
	// ID is the session ULID
	ID string

	// GroupName names the group definition this session ran under
	GroupName string

	// Goal is the shared objective text
	Goal string

	Status types.SessionStatus

	// Messages is the ordered conversation; append order is monotonic
	Messages []types.Message

	// Round is the last round that ran (1-based)
	Round int

	// Consensus is the agreed proposal text; empty when no consensus was
	// reached
	Consensus string

	// Usage aggregates token consumption across all member turns
	Usage types.Usage

	// Failure describes why the session ended without consensus or
	// terminated abnormally
	Failure *types.Failure

	StartedAt time.Time
	EndedAt   time.Time
}
