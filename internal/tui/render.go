package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ClearXs/Violet/internal/message"
)

const (
	minBubbleWidth = 10
	// 气泡左右边框与内边距占用的列数
	bubbleChrome = 8
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	inputStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	bubbleStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	assistantStyle = bubbleStyle.BorderForeground(lipgloss.Color("63"))
	userStyle      = bubbleStyle.BorderForeground(lipgloss.Color("205"))
	noteStyle      = bubbleStyle.BorderForeground(lipgloss.Color("240")).Foreground(lipgloss.Color("245"))
)

func (m chatModel) View() string {
	title := "Violet Chat"
	if m.opts.AgentName != "" {
		title += " · " + m.opts.AgentName
	}
	input := inputStyle.Width(max(1, m.input.Width+2)).Render(m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), m.viewport.View(), input, m.footerView())
}

func (m chatModel) footerView() string {
	left := "Enter 发送 | PgUp/PgDn 滚动 | Ctrl+C 取消/退出"
	right := ""
	if m.thinking {
		right = m.spinner.View() + " Thinking..."
	}
	gap := max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)
	line := left + strings.Repeat(" ", gap) + right
	return lipgloss.NewStyle().Width(m.width).Padding(0, 1).Render(line)
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.contentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

// renderChat 渲染全部对话条目；正在打字机输出的条目只显示已输出的部分。
func (m chatModel) renderChat() string {
	if m.width <= 0 {
		m.width = 80
	}
	blocks := make([]string, 0, len(m.entries))
	for i, e := range m.entries {
		content := e.content
		if m.streaming && m.streamIdx == i {
			if partial, ok := m.overrideContent[i]; ok {
				content = partial
			}
		}
		content = strings.TrimRight(content, "\n")
		if e.role == message.RoleAssistant && strings.TrimSpace(content) == "" {
			continue
		}
		blocks = append(blocks, m.renderEntry(e, content))
	}
	return strings.Join(blocks, "\n\n")
}

func (m chatModel) renderEntry(e entry, content string) string {
	switch e.role {
	case message.RoleUser:
		b := m.bubble(userStyle, content)
		return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(b)
	case message.RoleAssistant:
		if m.renderer != nil && strings.TrimSpace(content) != "" {
			if md, err := m.renderer.Render(content); err == nil {
				content = strings.TrimRight(md, "\n")
			}
		}
		return m.bubble(assistantStyle, content)
	default:
		label := e.label
		if label == "" {
			label = "TOOL"
		}
		if strings.TrimSpace(content) == "" {
			content = "(无输出)"
		}
		return m.bubble(noteStyle, label+"\n"+content)
	}
}

// bubble 按内容宽度收缩气泡，但不超过窗口。
func (m chatModel) bubble(style lipgloss.Style, content string) string {
	w := min(m.contentWidth(), max(minBubbleWidth, widest(content)))
	body := lipgloss.NewStyle().Width(w).Render(content)
	return style.MaxWidth(max(20, m.width-4)).Render(body)
}

func (m chatModel) contentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-bubbleChrome)
}

func widest(s string) int {
	w := 0
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		w = max(w, lipgloss.Width(strings.TrimRight(line, " ")))
	}
	return w
}
