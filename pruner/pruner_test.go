package pruner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
)

func newTestPruner() *Pruner {
	return NewPruner(Config{}, logger.NewTestLogger())
}

func TestPruner_MissionAndPersonaNeverTruncated(t *testing.T) {
	p := newTestPruner()

	mission := strings.Repeat("Find the cheapest red running shoes and buy them. ", 200)
	persona := "Margaret, 68, low digital confidence"

	pruned := p.Prune(context.Background(), FullContext{Mission: mission, Persona: persona})
	assert.Equal(t, mission, pruned.Mission)
	assert.Equal(t, persona, pruned.Persona)

	aggressive := p.Aggressive(pruned)
	assert.Equal(t, mission, aggressive.Mission)
	assert.Equal(t, persona, aggressive.Persona)
}

func TestPruner_KeepsLastThreeActionsInOrder(t *testing.T) {
	p := newTestPruner()

	var actions []Action
	for i := 0; i < 40; i++ {
		actions = append(actions, Action{Type: "click", Target: fmt.Sprintf("#btn-%d", i), Success: true})
	}

	pruned := p.Prune(context.Background(), FullContext{Mission: "m", Persona: "p", Actions: actions})
	require.Len(t, pruned.RecentActions, 3)
	assert.Equal(t, "#btn-37", pruned.RecentActions[0].Target)
	assert.Equal(t, "#btn-38", pruned.RecentActions[1].Target)
	assert.Equal(t, "#btn-39", pruned.RecentActions[2].Target)
}

func TestPruner_UrgentFrictionsWindowAppliesAfterSeverityFilter(t *testing.T) {
	p := newTestPruner()

	// Six urgent frictions followed by a burst of low-severity noise. The
	// noise must not push urgent frictions out of the window of five; only
	// the oldest urgent one falls off.
	var frictions []Friction
	for i := 0; i < 6; i++ {
		frictions = append(frictions, Friction{Element: fmt.Sprintf("high-%d", i), Severity: testrun.SeverityHigh})
	}
	for i := 0; i < 5; i++ {
		frictions = append(frictions, Friction{Element: fmt.Sprintf("low-%d", i), Severity: testrun.SeverityLow})
	}

	pruned := p.Prune(context.Background(), FullContext{Mission: "m", Persona: "p", Frictions: frictions})

	require.Len(t, pruned.Frictions, 5)
	assert.Equal(t, "high-1", pruned.Frictions[0].Element)
	assert.Equal(t, "high-5", pruned.Frictions[4].Element)
}

func TestPruner_ExtractsInteractiveElements(t *testing.T) {
	p := newTestPruner()

	html := `<html><body>
		<h1>Shoe Shop</h1>
		<p>` + strings.Repeat("filler text ", 500) + `</p>
		<button id="add-to-cart">Add to cart</button>
		<a href="/checkout">Checkout</a>
		<input type="email" name="email" placeholder="Email address">
	</body></html>`

	pruned := p.Prune(context.Background(), FullContext{Mission: "m", Persona: "p", PageHTML: html})

	assert.Contains(t, pruned.DOMSnapshot, `<button id="add-to-cart">Add to cart`)
	assert.Contains(t, pruned.DOMSnapshot, `href="/checkout"`)
	assert.Contains(t, pruned.DOMSnapshot, `placeholder="Email address"`)
	assert.NotContains(t, pruned.DOMSnapshot, "filler text")
}

func TestPruner_ElementCaps(t *testing.T) {
	p := newTestPruner()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, `<button id="b%d">B</button>`, i)
	}
	b.WriteString("</body></html>")

	pruned := p.Prune(context.Background(), FullContext{Mission: "m", Persona: "p", PageHTML: b.String()})

	lines := strings.Split(pruned.DOMSnapshot, "\n")
	assert.Len(t, lines, 10)
	assert.Contains(t, lines[0], `id="b0"`)
	assert.Contains(t, lines[9], `id="b9"`)
}

func TestPruner_AggressiveKeepsNewestFrictions(t *testing.T) {
	p := newTestPruner()

	pruned := PrunedContext{
		Mission: "m",
		Persona: "p",
		Frictions: []Friction{
			{Element: "stale-1", Severity: testrun.SeverityHigh},
			{Element: "stale-2", Severity: testrun.SeverityHigh},
			{Element: "recent-1", Severity: testrun.SeverityHigh},
			{Element: "recent-2", Severity: testrun.SeverityCritical},
			{Element: "recent-3", Severity: testrun.SeverityCritical},
		},
	}

	out := p.Aggressive(pruned)
	require.Len(t, out.Frictions, 3)
	assert.Equal(t, "recent-1", out.Frictions[0].Element)
	assert.Equal(t, "recent-3", out.Frictions[2].Element)
}

func TestPruner_FallbackOnUnparseableDOM(t *testing.T) {
	p := newTestPruner()

	// No interactive elements at all: falls back to the bounded raw page.
	html := "<html><body>" + strings.Repeat("x", 10_000) + "</body></html>"
	pruned := p.Prune(context.Background(), FullContext{Mission: "m", Persona: "p", PageHTML: html})

	assert.Len(t, pruned.DOMSnapshot, 5000)
	assert.True(t, strings.HasPrefix(pruned.DOMSnapshot, "<html>"))
}

func TestPruner_AggressiveNeverIncreasesEstimate(t *testing.T) {
	p := newTestPruner()

	full := FullContext{
		Mission:  "Buy shoes",
		Persona:  "Margaret",
		PageHTML: "<html><body>" + strings.Repeat(`<button id="b">Click</button>`, 60) + "</body></html>",
		Actions: []Action{
			{Type: "navigate", Target: "https://example.com", Success: true},
			{Type: "click", Target: "#menu", Success: true},
			{Type: "click", Target: "#cart", Success: false, Error: "element not visible"},
		},
		Frictions: []Friction{
			{Element: "cart", IssueType: "visibility", Severity: testrun.SeverityHigh},
			{Element: "nav", IssueType: "contrast", Severity: testrun.SeverityCritical},
		},
	}

	pruned := p.Prune(context.Background(), full)
	aggressive := p.Aggressive(pruned)

	assert.LessOrEqual(t, p.EstimateTokens(aggressive), p.EstimateTokens(pruned))
	assert.LessOrEqual(t, len(aggressive.RecentActions), 2)
}

func TestPruner_PruneToBudget(t *testing.T) {
	p := newTestPruner()

	full := FullContext{
		Mission:  "Buy shoes",
		Persona:  "Margaret",
		PageHTML: "<html><body>" + strings.Repeat(`<a href="/x">Link text here</a>`, 60) + "</body></html>",
	}

	// A generous budget returns the normal prune.
	roomy := p.PruneToBudget(context.Background(), full, 100_000)
	assert.Equal(t, p.Prune(context.Background(), full), roomy)

	// A tight budget forces the aggressive prune.
	tight := p.PruneToBudget(context.Background(), full, 10)
	assert.LessOrEqual(t, p.EstimateTokens(tight), p.EstimateTokens(roomy))
}

func TestPruner_ValidatePruning(t *testing.T) {
	p := newTestPruner()

	full := FullContext{
		Mission:  "Buy shoes",
		Persona:  "Margaret",
		PageHTML: "<html><body>" + strings.Repeat(`<button id="b">Click me now</button>`, 20) + "</body></html>",
		Actions: []Action{
			{Type: "click", Target: "#cart", Success: true},
		},
	}

	t.Run("clean prune is valid", func(t *testing.T) {
		pruned := p.Prune(context.Background(), full)
		valid, warnings := p.ValidatePruning(full, pruned)
		assert.True(t, valid)
		assert.Empty(t, warnings)
	})

	t.Run("flags altered mission", func(t *testing.T) {
		pruned := p.Prune(context.Background(), full)
		pruned.Mission = "Buy"
		valid, warnings := p.ValidatePruning(full, pruned)
		assert.False(t, valid)
		assert.Contains(t, warnings, "mission text was altered by pruning")
	})

	t.Run("flags dropped actions and short snapshot", func(t *testing.T) {
		pruned := p.Prune(context.Background(), full)
		pruned.RecentActions = nil
		pruned.DOMSnapshot = "<button>"
		valid, warnings := p.ValidatePruning(full, pruned)
		assert.False(t, valid)
		assert.Len(t, warnings, 2)
	})
}

func TestPruner_FormatPrompt(t *testing.T) {
	p := newTestPruner()

	pruned := PrunedContext{
		Mission: "Buy shoes",
		Persona: "Margaret",
		RecentActions: []Action{
			{Type: "click", Target: "#cart", Success: false, Error: "element not visible"},
		},
		Frictions: []Friction{
			{Element: "cart", IssueType: "visibility", Severity: testrun.SeverityHigh},
		},
		DOMSnapshot: `<button id="cart">Cart</button>`,
	}

	prompt := p.FormatPrompt(pruned)
	assert.Contains(t, prompt, "MISSION:\nBuy shoes")
	assert.Contains(t, prompt, "PERSONA:\nMargaret")
	assert.Contains(t, prompt, "click #cart (failed: element not visible)")
	assert.Contains(t, prompt, "[high] cart: visibility")
	assert.Contains(t, prompt, `<button id="cart">Cart</button>`)
}
