package main

import (
	"context"
	"fmt"
	"strings"

	"litepage/pkg/debug/ui"
	"litepage/pkg/disk"
	"litepage/pkg/primitives"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
)

type browseKeyMap struct {
	ui.CommonKeyMap
	ui.NavigationKeyMap
}

var browseKeys = browseKeyMap{
	CommonKeyMap:     ui.CommonKeys,
	NavigationKeyMap: ui.NavigationKeys,
}

type browseModel struct {
	svc      *disk.Service
	mode     primitives.FileMode
	index    primitives.PageIndex
	files    [2]fileInfo
	report   pageReport
	loading  bool
	viewport viewport.Model
	ready    bool
	width    int
	height   int
	err      error
}

func initialBrowseModel(svc *disk.Service) browseModel {
	return browseModel{svc: svc, mode: primitives.Data, loading: true}
}

type filesLoadedMsg struct {
	files [2]fileInfo
	err   error
}

type pageLoadedMsg struct {
	report pageReport
	data   []byte
	err    error
}

func (m browseModel) Init() tea.Cmd {
	return tea.Batch(loadFiles(m.svc), loadPage(m.svc, m.mode, m.index))
}

func loadFiles(svc *disk.Service) tea.Cmd {
	return func() tea.Msg {
		var msg filesLoadedMsg
		for _, mode := range []primitives.FileMode{primitives.Data, primitives.Log} {
			msg.files[mode], msg.err = describe(svc, mode)
			if msg.err != nil {
				break
			}
		}
		return msg
	}
}

// loadPage reads through a fresh reader each time: commands run on their own
// goroutines and a reader must not be shared.
func loadPage(svc *disk.Service, mode primitives.FileMode, index primitives.PageIndex) tea.Cmd {
	return func() tea.Msg {
		rep, data, err := readPage(context.Background(), svc, mode, index)
		return pageLoadedMsg{report: rep, data: data, err: err}
	}
}

func (m browseModel) pages() primitives.PageIndex {
	return primitives.PageIndex(m.files[m.mode].Pages)
}

func (m browseModel) goTo(mode primitives.FileMode, index primitives.PageIndex) (browseModel, tea.Cmd) {
	if mode == m.mode && index == m.index {
		return m, nil
	}
	m.mode, m.index, m.loading = mode, index, true
	return m, loadPage(m.svc, mode, index)
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case filesLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.files = msg.files
		return m, nil

	case pageLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if msg.report.Mode != m.mode || msg.report.Index != m.index {
			return m, nil
		}
		m.report = msg.report
		if m.ready {
			m.viewport.SetContent(renderPage(msg.report, msg.data))
			m.viewport.GotoTop()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(msg.Width-2, max(msg.Height-12, 4))
		m.ready = true
		return m, loadPage(m.svc, m.mode, m.index)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, browseKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, browseKeys.NextPage):
			if m.index+1 < m.pages() {
				return m.goTo(m.mode, m.index+1)
			}
			return m, nil
		case key.Matches(msg, browseKeys.PrevPage):
			if m.index > 0 {
				return m.goTo(m.mode, m.index-1)
			}
			return m, nil
		case key.Matches(msg, browseKeys.FirstPage):
			return m.goTo(m.mode, 0)
		case key.Matches(msg, browseKeys.LastPage):
			if n := m.pages(); n > 0 {
				return m.goTo(m.mode, n-1)
			}
			return m, nil
		case key.Matches(msg, browseKeys.ToggleMode):
			other := primitives.Log
			if m.mode == primitives.Log {
				other = primitives.Data
			}
			return m.goTo(other, 0)
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func renderPage(rep pageReport, data []byte) string {
	if rep.Err != nil {
		return ui.ErrorStyle.Render(rep.status())
	}
	return ui.RenderHexDump(data)
}

func (m browseModel) View() string {
	if m.err != nil {
		return ui.RenderError(m.err)
	}

	var b strings.Builder
	b.WriteString(ui.RenderTitle("▤", "Page Reader") + "\n")

	info := m.files[m.mode]
	b.WriteString(ui.RenderHeaderWithCount(fmt.Sprintf("%s file", m.mode), int(info.Pages)) + "\n")
	b.WriteString(ui.RenderField("File", info.Path, 8) + "\n")
	b.WriteString(ui.RenderField("Size", humanize.Bytes(uint64(info.Size)), 8) + "\n")

	if m.loading || !m.ready {
		b.WriteString("\nLoading page...\n")
	} else {
		status := ui.SuccessStyle.Render(m.report.status())
		if m.report.Err != nil {
			status = ui.WarningStyle.Render(m.report.status())
		}
		b.WriteString(ui.RenderField("Page", fmt.Sprintf("%d @ %d", m.report.Index, m.report.Position), 8) + " " + status + "\n")
		if m.report.Digest != "" {
			b.WriteString(ui.RenderField("BLAKE3", m.report.Digest, 8) + "\n")
		}
		b.WriteString(m.viewport.View() + "\n")
	}

	b.WriteString(ui.RenderStatusBar(fmt.Sprintf(" %s | page %d/%d ", m.mode, m.index+1, max(m.pages(), 1))))
	b.WriteString(ui.HelpStyle.Render("↑/↓: scroll | n/p: next/prev page | g/G: first/last | tab: data/log | q: quit"))
	return b.String()
}
