// Package ui implements the interactive tunnel dashboard.
package ui

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pgtunnel/internal/appconfig"
	"pgtunnel/internal/events"
	"pgtunnel/internal/model"
	"pgtunnel/internal/rules"
	"pgtunnel/internal/security"
	"pgtunnel/internal/tunnel"
	"pgtunnel/internal/util"
)

type tickMsg time.Time

type statusMsg string

type modelUI struct {
	databases  []model.DatabaseTarget
	filtered   []model.DatabaseTarget
	sel        int
	filter     textinput.Model
	filterMode bool
	showHelp   bool
	status     string
	tunnel     model.TunnelStatus
	width      int
	height     int
	cfg        appconfig.Config
	mgr        *tunnel.Manager
}

func initialModel() (modelUI, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return modelUI{}, err
	}
	matcher, err := rules.NewMatcher(cfg.AliasTunnels, cfg.HostTunnels)
	if err != nil {
		return modelUI{}, err
	}
	mgr := tunnel.NewManager(&cfg, matcher, "")
	mgr.SetJournal(events.NewStore())

	fi := textinput.New()
	fi.Placeholder = "name or host"
	fi.CharLimit = 128
	fi.Width = 40

	m := modelUI{cfg: cfg, mgr: mgr, filter: fi}
	m.databases = cfg.Databases
	m.applyFilter()
	m.tunnel = mgr.Status()
	m.status = "Ready. Select a database, then Enter to open its tunnel."
	return m, nil
}

func (m *modelUI) applyFilter() {
	f := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	if f == "" {
		m.filtered = append([]model.DatabaseTarget(nil), m.databases...)
	} else {
		m.filtered = nil
		for _, d := range m.databases {
			if strings.Contains(strings.ToLower(d.Name), f) || strings.Contains(strings.ToLower(d.Host), f) {
				m.filtered = append(m.filtered, d)
			}
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func tickCmd(seconds int) tea.Cmd {
	if seconds <= 0 {
		seconds = util.DefaultRefreshSeconds
	}
	return tea.Tick(time.Duration(seconds)*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m modelUI) Init() tea.Cmd {
	return tickCmd(m.cfg.UI.RefreshSeconds)
}

func (m modelUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tunnel = m.mgr.Status()
		return m, tickCmd(m.cfg.UI.RefreshSeconds)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		if m.filterMode {
			switch msg.String() {
			case "enter", "esc":
				m.filterMode = false
				m.filter.Blur()
				m.applyFilter()
				return m, nil
			default:
				var cmd tea.Cmd
				m.filter, cmd = m.filter.Update(msg)
				m.applyFilter()
				return m, cmd
			}
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.mgr.Stop()
			return m, tea.Quit
		case "j", "down":
			if m.sel < len(m.filtered)-1 {
				m.sel++
			}
		case "k", "up":
			if m.sel > 0 {
				m.sel--
			}
		case "/":
			m.filterMode = true
			m.filter.Focus()
			m.status = "Filter mode: type and press Enter"
		case "?":
			m.showHelp = !m.showHelp
		case "r":
			if cfg, err := appconfig.Load(); err == nil {
				m.cfg = cfg
				m.databases = cfg.Databases
				m.applyFilter()
				m.status = "Reloaded configuration"
			} else {
				m.status = "reload failed: " + err.Error()
			}
			m.tunnel = m.mgr.Status()
		case "enter":
			if len(m.filtered) == 0 {
				break
			}
			db := m.filtered[m.sel]
			host, port, err := m.mgr.Start(db.Host, db.Port, db.Name)
			switch {
			case err != nil:
				m.status = "Tunnel start failed: " + security.UserMessage(err, true)
			case m.mgr.Active():
				m.status = fmt.Sprintf("Tunnel open: connect to %s for %s", net.JoinHostPort(host, fmt.Sprint(port)), db.Name)
			default:
				m.status = fmt.Sprintf("No rule matches %s; connect directly to %s", db.Name, net.JoinHostPort(host, fmt.Sprint(port)))
			}
			m.tunnel = m.mgr.Status()
		case "x":
			m.mgr.Stop()
			m.tunnel = m.mgr.Status()
			m.status = "Tunnel stopped"
		}
	case statusMsg:
		m.status = string(msg)
	}
	return m, nil
}

func (m modelUI) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("pgtunnel Dashboard")
	subhead := fmt.Sprintf("databases=%d shown=%d refresh=%ds", len(m.databases), len(m.filtered), clampRefresh(m.cfg.UI.RefreshSeconds))

	left := strings.Builder{}
	left.WriteString("j/k to navigate; [T] marks the tunneled database.\n")
	for i, d := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		mark := " "
		if m.databaseTunneled(d) {
			mark = "T"
		}
		left.WriteString(fmt.Sprintf("%s[%s] %-20s %s\n", cursor, mark, d.Name, net.JoinHostPort(d.Host, fmt.Sprint(d.Port))))
	}
	if len(m.filtered) == 0 {
		left.WriteString("  (no databases matched)\n")
	}

	detail := strings.Builder{}
	if len(m.filtered) > 0 {
		d := m.filtered[m.sel]
		detail.WriteString(fmt.Sprintf("Name: %s\nHost: %s\nPort: %d\n", d.Name, d.Host, d.Port))
		if spec, ok := m.mgr.FindTunnelSpec(d.Host, d.Name); ok {
			detail.WriteString("Tunnel rule: " + security.RedactMessage(spec) + "\n")
		} else {
			detail.WriteString("Tunnel rule: none (direct connection)\n")
		}
	} else {
		detail.WriteString("Pick a database to view tunnel options.\n")
	}

	tun := strings.Builder{}
	st := m.tunnel
	if st.State == model.SessionActive {
		tun.WriteString(fmt.Sprintf("%-10s %-28s %-28s %-24s %s\n", "STATE", "LOCAL", "REMOTE", "BASTION", "UPTIME"))
		tun.WriteString(fmt.Sprintf("%-10s %-28s %-28s %-24s %ds\n",
			st.State, st.LocalAddr, net.JoinHostPort(st.RemoteHost, fmt.Sprint(st.RemotePort)), st.Bastion, st.UptimeSec))
	} else {
		tun.WriteString("(no active tunnel)\n")
		if st.LastError != "" {
			tun.WriteString("last error: " + security.RedactMessage(st.LastError) + "\n")
		}
	}

	filterLine := "Filter: " + m.filter.Value()
	if m.filterMode {
		filterLine = "Filter: " + m.filter.View()
	}

	quickHelp := "Keys: Enter open tunnel | x stop | / filter | r reload | ? help | q quit"
	main := m.renderMainPanels(left.String(), detail.String())
	tunnels := m.renderPanel("Tunnel", tun.String(), m.effectiveWidth(), lipgloss.Color("63"))
	status := m.renderPanel("Status", m.status, m.effectiveWidth(), lipgloss.Color("205"))
	help := ""
	if m.showHelp {
		help = m.renderPanel("Help", m.helpBlock(), m.effectiveWidth(), lipgloss.Color("244"))
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		filterLine,
		quickHelp,
		main,
		tunnels,
		help,
		status,
	)
}

// Run starts the interactive dashboard.
func Run() error {
	m, err := initialModel()
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

func (m modelUI) databaseTunneled(d model.DatabaseTarget) bool {
	st := m.tunnel
	return st.State == model.SessionActive && st.RemoteHost == d.Host && st.RemotePort == d.Port
}

func (m modelUI) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection.",
		"  Filtering: press /, type name/host text, then Enter.",
		"  Tunnel: Enter opens a tunnel for the selected database; x stops it.",
		"  Only one tunnel runs at a time; stop the current one before switching.",
		"  Reload: press r to reread config.yaml.",
		"  Quit: press q (or Ctrl+C) and the tunnel is stopped.",
	}, "\n")
}

func (m modelUI) renderMainPanels(listPanel, detailPanel string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel("Databases", listPanel, width, lipgloss.Color("39")),
			m.renderPanel("Details", detailPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel("Databases", listPanel, leftWidth, lipgloss.Color("39")),
		m.renderPanel("Details", detailPanel, rightWidth, lipgloss.Color("69")),
	)
}

func (m modelUI) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m modelUI) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}
