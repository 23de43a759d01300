// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package group

import (
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/types"
)

// ParsePerformative extracts the performative from a member response.
// Members are prompted to open with an uppercase performative keyword
// followed by a colon; anything else reads as inform.
func ParsePerformative(text string) (types.Performative, string) {
	trimmed := strings.TrimSpace(text)
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return types.PerformativeInform, trimmed
	}
	keyword := strings.ToLower(strings.TrimSpace(trimmed[:idx]))
	p := types.Performative(keyword)
	if !types.ValidPerformative(p) {
		return types.PerformativeInform, trimmed
	}
	return p, strings.TrimSpace(trimmed[idx+1:])
}

// stance is a member's normalized latest position.
type stance struct {
	member       string
	performative types.Performative
	content      string
	at           time.Time
}

// proposal tracks one distinct proposal and its support.
type proposal struct {
	content   string
	proposer  string
	firstSeen time.Time
	support   int
}

// consensusCheck evaluates the latest stances at the end of a round.
// The leading proposal is the one with the most support; ties resolve
// to the earliest proposal. A proposal's support counts its proposer
// plus every member whose latest stance is an agree or confirm issued
// after the proposal appeared.
func consensusCheck(messages []types.Message, members []string, threshold float64) (string, bool) {
	latest := make(map[string]stance, len(members))
	var proposals []*proposal

	for _, msg := range messages {
		if msg.Sender == "" {
			continue
		}
		switch msg.Performative {
		case types.PerformativePropose:
			content := msg.Text()
			found := false
			for _, p := range proposals {
				if p.content == content {
					found = true
					break
				}
			}
			if !found {
				proposals = append(proposals, &proposal{
					content:   content,
					proposer:  msg.Sender,
					firstSeen: msg.Timestamp,
				})
			}
			latest[msg.Sender] = stance{msg.Sender, msg.Performative, content, msg.Timestamp}
		case types.PerformativeAgree, types.PerformativeConfirm,
			types.PerformativeDisagree, types.PerformativeRefuse:
			latest[msg.Sender] = stance{msg.Sender, msg.Performative, msg.Text(), msg.Timestamp}
		}
	}
	if len(proposals) == 0 {
		return "", false
	}

	for _, p := range proposals {
		for _, member := range members {
			s, ok := latest[member]
			if !ok {
				continue
			}
			switch s.performative {
			case types.PerformativePropose:
				if s.content == p.content {
					p.support++
				}
			case types.PerformativeAgree, types.PerformativeConfirm:
				// AGREE and CONFIRM are equivalent endorsements of the
				// proposal on the table when they were issued.
				if !s.at.Before(p.firstSeen) {
					p.support++
				}
			}
		}
	}

	leading := proposals[0]
	for _, p := range proposals[1:] {
		if p.support > leading.support {
			leading = p
		}
		// Equal support keeps the earliest proposal.
	}

	ratio := float64(leading.support) / float64(len(members))
	if ratio >= threshold {
		return leading.content, true
	}
	return "", false
}
