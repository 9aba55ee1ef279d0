package main

import (
	"fmt"
	"os"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/youcefjd/orchestration-core/internal/approval"
)

// planWrapWidth bounds the formatted plan's rendered width in the TUI so a
// long markdown plan doesn't run off the side of a narrow terminal.
const planWrapWidth = 76

// Color scheme for the approval CLI: a consistent Bold/Foreground style per
// semantic role rather than ad-hoc ANSI codes scattered through the print
// statements.
var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	greenStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellowStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	redStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// riskStyle colors an approval's risk tier.
func riskStyle(risk string) lipgloss.Style {
	switch risk {
	case "green":
		return greenStyle
	case "yellow":
		return yellowStyle
	case "red":
		return redStyle
	default:
		return normalStyle
	}
}

func verdictStyle(v approval.Verdict) lipgloss.Style {
	switch v {
	case approval.VerdictApproved:
		return greenStyle
	case approval.VerdictRejected:
		return redStyle
	default:
		return yellowStyle
	}
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func (c *ApproveListCmd) Run(app *App) error {
	var verdict approval.Verdict
	if c.Status != "" {
		verdict = approval.Verdict(c.Status)
	}
	items := app.Approvals.List(verdict)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })

	if !c.NoTUI && isTerminal(os.Stdout) {
		return runApproveListTUI(items)
	}
	return printApproveList(app, items)
}

func printApproveList(app *App, items []*approval.Approval) error {
	if len(items) == 0 {
		fmt.Fprintln(app.Stdout, dimStyle.Render("no approvals match that filter"))
		return nil
	}
	for _, a := range items {
		fmt.Fprintf(app.Stdout, "%s  %s  %s  %s\n",
			dimStyle.Render(a.ID[:8]),
			riskStyle(a.Risk).Render(a.Risk),
			verdictStyle(a.Verdict).Render(string(a.Verdict)),
			a.Reason)
	}
	return nil
}

func (c *ApproveShowCmd) Run(app *App) error {
	a, ok := app.Approvals.Get(c.ID)
	if !ok {
		return fmt.Errorf("no approval with id %q", c.ID)
	}

	if !c.NoTUI && isTerminal(os.Stdout) {
		return runApproveShowTUI(a)
	}
	return printApproveDetail(app, a)
}

func printApproveDetail(app *App, a *approval.Approval) error {
	fmt.Fprintf(app.Stdout, "%s %s\n", titleStyle.Render("approval"), a.ID)
	fmt.Fprintf(app.Stdout, "task:   %s\n", a.TaskID)
	fmt.Fprintf(app.Stdout, "tool:   %s\n", a.Tool)
	fmt.Fprintf(app.Stdout, "risk:   %s\n", riskStyle(a.Risk).Render(a.Risk))
	fmt.Fprintf(app.Stdout, "verdict:%s\n", verdictStyle(a.Verdict).Render(string(a.Verdict)))
	fmt.Fprintf(app.Stdout, "reason: %s\n", a.Reason)
	if a.FormattedPlan != "" {
		fmt.Fprintf(app.Stdout, "\n%s\n", a.FormattedPlan)
	}
	if a.Verdict == approval.VerdictPending {
		fmt.Fprintf(app.Stdout, "\n%s\n", dimStyle.Render(fmt.Sprintf("agent approve approve %s   # or: agent approve reject %s", a.ID, a.ID)))
	}
	return nil
}

func (c *ApproveApproveCmd) Run(app *App) error {
	if err := app.Approvals.Decide(c.ID, approval.VerdictApproved, c.Note); err != nil {
		return err
	}
	fmt.Fprintf(app.Stdout, "%s approved. Run `agent execute --resume %s` to resume the task.\n", c.ID, c.ID)
	return nil
}

func (c *ApproveRejectCmd) Run(app *App) error {
	if err := app.Approvals.Decide(c.ID, approval.VerdictRejected, c.Reason); err != nil {
		return err
	}
	fmt.Fprintf(app.Stdout, "%s rejected. Run `agent execute --resume %s` to resume the task; the tool call will be reported as denied.\n", c.ID, c.ID)
	return nil
}

// approveListModel is a small bubbletea list+detail view: a cursor index
// over a slice, up/down/k/j to move, enter to drill into the detail pane, q
// to go back or quit.
type approveListModel struct {
	items  []*approval.Approval
	cursor int
	detail bool
}

func runApproveListTUI(items []*approval.Approval) error {
	if len(items) == 0 {
		fmt.Println(dimStyle.Render("no approvals match that filter"))
		return nil
	}
	p := tea.NewProgram(approveListModel{items: items})
	_, err := p.Run()
	return err
}

func (m approveListModel) Init() tea.Cmd { return nil }

func (m approveListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "ctrl+c", "q":
		if m.detail {
			m.detail = false
			return m, nil
		}
		return m, tea.Quit
	case "up", "k":
		if !m.detail && m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if !m.detail && m.cursor < len(m.items)-1 {
			m.cursor++
		}
		return m, nil
	case "enter":
		m.detail = !m.detail
		return m, nil
	}
	return m, nil
}

func (m approveListModel) View() string {
	if m.detail {
		return renderApprovalDetail(m.items[m.cursor]) + "\n" + dimStyle.Render("q to go back")
	}

	var b []byte
	b = append(b, titleStyle.Render("pending approvals")+"\n\n"...)
	for i, a := range m.items {
		cursor := "  "
		style := normalStyle
		if i == m.cursor {
			cursor = "> "
			style = selectedStyle
		}
		line := fmt.Sprintf("%s%s  %s  %s  %s", cursor, a.ID[:8], riskStyle(a.Risk).Render(a.Risk), verdictStyle(a.Verdict).Render(string(a.Verdict)), a.Reason)
		b = append(b, style.Render(line)+"\n"...)
	}
	b = append(b, "\n"+dimStyle.Render("up/down to move, enter to inspect, q to quit")...)
	return string(b)
}

func runApproveShowTUI(a *approval.Approval) error {
	p := tea.NewProgram(approveDetailModel{approval: a})
	_, err := p.Run()
	return err
}

type approveDetailModel struct {
	approval *approval.Approval
}

func (m approveDetailModel) Init() tea.Cmd { return nil }

func (m approveDetailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "q", "ctrl+c", "enter":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m approveDetailModel) View() string {
	return renderApprovalDetail(m.approval) + "\n" + dimStyle.Render("q to exit")
}

func renderApprovalDetail(a *approval.Approval) string {
	out := titleStyle.Render("approval "+a.ID) + "\n"
	out += subtitleStyle.Render(a.Tool) + "\n\n"
	out += fmt.Sprintf("task:    %s\n", a.TaskID)
	out += fmt.Sprintf("risk:    %s\n", riskStyle(a.Risk).Render(a.Risk))
	out += fmt.Sprintf("verdict: %s\n", verdictStyle(a.Verdict).Render(string(a.Verdict)))
	out += fmt.Sprintf("reason:  %s\n", a.Reason)
	if a.FormattedPlan != "" {
		out += "\n" + wordwrap.String(a.FormattedPlan, planWrapWidth) + "\n"
	}
	if a.Verdict == approval.VerdictPending {
		out += "\n" + dimStyle.Render(fmt.Sprintf("decide from another shell: agent approve approve %s | agent approve reject %s", a.ID, a.ID))
	}
	return out
}
