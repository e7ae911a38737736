package main

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joshuapare/heapkit/heap"
)

const arenaReserve = 4 << 20

// ref is one live allocation tracked by the workload.
type ref struct {
	base, size uintptr
}

// KeyMap defines the explorer's key bindings.
type KeyMap struct {
	Step  key.Binding
	Auto  key.Binding
	Reset key.Binding
	Quit  key.Binding
}

var defaultKeys = KeyMap{
	Step:  key.NewBinding(key.WithKeys(" ", "n"), key.WithHelp("space/n", "step")),
	Auto:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto")),
	Reset: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

// Model drives a workload against a private heap and renders it.
type Model struct {
	alloc *heap.Allocator
	rng   *rand.Rand
	seed  int64
	live  []ref
	step  int
	auto  bool

	width  int
	height int
	log    viewport.Model
	lines  []string
	keys   KeyMap
}

func newModel(seed int64) Model {
	m := Model{
		seed: seed,
		keys: defaultKeys,
		log:  viewport.New(80, 10),
	}
	m.reset()
	return m
}

func (m *Model) reset() {
	m.alloc = heap.NewArena(arenaReserve, heap.Options{TrimThreshold: 256 << 10})
	m.rng = rand.New(rand.NewSource(m.seed))
	m.live = nil
	m.lines = nil
	m.step = 0
}

func (m Model) Init() tea.Cmd {
	return nil
}

func tick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.Width = msg.Width - 4
		m.log.Height = max(4, msg.Height-14)
		return m, nil

	case tickMsg:
		if !m.auto {
			return m, nil
		}
		m.doStep()
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Step):
			m.doStep()
			return m, nil
		case key.Matches(msg, m.keys.Auto):
			m.auto = !m.auto
			if m.auto {
				return m, tick()
			}
			return m, nil
		case key.Matches(msg, m.keys.Reset):
			m.reset()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	return m, cmd
}

// doStep performs one workload operation and records what happened.
func (m *Model) doStep() {
	m.step++
	switch r := m.rng.Intn(6); {
	case r < 3 || len(m.live) == 0:
		size := uintptr(16 + m.rng.Intn(2048))
		base, err := m.alloc.TryAlloc(size, 8)
		if err != nil {
			m.record(fmt.Sprintf("#%-5d alloc %5d B -> out of memory", m.step, size))
			return
		}
		m.live = append(m.live, ref{base, size})
		m.record(fmt.Sprintf("#%-5d alloc %5d B @ 0x%x", m.step, size, base))

	case r < 5:
		i := m.rng.Intn(len(m.live))
		l := m.live[i]
		m.alloc.Free(l.base, l.size)
		m.live[i] = m.live[len(m.live)-1]
		m.live = m.live[:len(m.live)-1]
		m.record(fmt.Sprintf("#%-5d free  %5d B @ 0x%x", m.step, l.size, l.base))

	default:
		i := m.rng.Intn(len(m.live))
		l := m.live[i]
		size := uintptr(16 + m.rng.Intn(2048))
		base, err := m.alloc.TryReallocInplace(l.base, l.size, size)
		if err != nil {
			base = m.alloc.Realloc(l.base, l.size, size, 8)
			m.record(fmt.Sprintf("#%-5d moved %5d -> %5d B @ 0x%x", m.step, l.size, size, base))
		} else {
			m.record(fmt.Sprintf("#%-5d grew  %5d -> %5d B in place", m.step, l.size, size))
		}
		m.live[i] = ref{base, size}
	}
}

func (m *Model) record(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > 500 {
		m.lines = m.lines[len(m.lines)-500:]
	}
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
}

// heapBar renders the address space as one cell per bucket: live
// allocations, free pool spans, and bookkeeper overhead in between.
func (m Model) heapBar(width int) string {
	spans := m.alloc.Spans()
	if len(m.live) == 0 && len(spans) == 0 {
		return gapCellStyle.Render(strings.Repeat("·", width))
	}

	lo := ^uintptr(0)
	hi := uintptr(0)
	consider := func(base, size uintptr) {
		if base < lo {
			lo = base
		}
		if base+size > hi {
			hi = base + size
		}
	}
	for _, l := range m.live {
		consider(l.base, l.size)
	}
	for _, s := range spans {
		consider(s.Base, s.Size)
	}
	if hi <= lo {
		return ""
	}

	cells := make([]byte, width)
	for i := range cells {
		cells[i] = 'o' // overhead / untracked
	}
	mark := func(base, size uintptr, c byte) {
		from := int(uint64(base-lo) * uint64(width) / uint64(hi-lo))
		to := int(uint64(base+size-lo) * uint64(width) / uint64(hi-lo))
		if to == from {
			to = from + 1
		}
		for i := from; i < to && i < width; i++ {
			cells[i] = c
		}
	}
	for _, s := range spans {
		mark(s.Base, s.Size, 'f')
	}
	for _, l := range m.live {
		mark(l.base, l.size, 'l')
	}

	var sb strings.Builder
	for _, c := range cells {
		switch c {
		case 'l':
			sb.WriteString(liveCellStyle.Render("█"))
		case 'f':
			sb.WriteString(freeCellStyle.Render("░"))
		default:
			sb.WriteString(gapCellStyle.Render("·"))
		}
	}
	return sb.String()
}

func (m Model) View() string {
	width := max(40, m.width-6)

	s := m.alloc.Stats()
	spans := m.alloc.Spans()
	sort.Slice(spans, func(i, j int) bool { return spans[i].Base < spans[j].Base })

	header := headerStyle.Render("heapexplorer") +
		helpStyle.Render(fmt.Sprintf("  step %d  %s", m.step, m.autoLabel()))

	bar := paneStyle.Render(m.heapBar(width))

	stats := statStyle.Render(fmt.Sprintf(
		"live %d blocks   free %d spans (%d B)   brk %d B   trimmed %d B",
		len(m.live), len(spans), s.PooledBytes, s.BrkBytes, s.TrimmedBytes))

	logPane := paneStyle.Render(m.log.View())

	help := helpStyle.Render("space/n step · a auto · r reset · q quit")

	return strings.Join([]string{header, bar, stats, logPane, help}, "\n")
}

func (m Model) autoLabel() string {
	if m.auto {
		return "auto"
	}
	return "manual"
}
