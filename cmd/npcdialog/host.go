package main

import (
	"fmt"

	orchestration "github.com/koscakluka/ema-dialog/core"
)

// The terminal stands in for the game engine: every collaborator is a flag
// shown in the status bar. They are only touched from the bubbletea update
// loop, which also drains the queue.

type terminalActor struct {
	tag      string
	enabled  bool
	position orchestration.Placement
}

func newTerminalActor(tag string) *terminalActor {
	return &terminalActor{tag: tag, enabled: true}
}

func (a *terminalActor) Tag() string             { return a.tag }
func (a *terminalActor) SetEnabled(enabled bool) { a.enabled = enabled }

func (a *terminalActor) MoveTo(placement orchestration.Placement) error {
	a.position = placement
	return nil
}

type toggleView struct {
	name   string
	active bool
}

func (v *toggleView) SetActive(active bool) { v.active = active }

func (v *toggleView) String() string {
	if v.active {
		return v.name + " on"
	}
	return v.name + " off"
}

type terminalPointer struct {
	visible bool
}

func (p *terminalPointer) SetVisible(visible bool) { p.visible = visible }

func (p *terminalPointer) String() string {
	return fmt.Sprintf("pointer %s", onOff(p.visible))
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
