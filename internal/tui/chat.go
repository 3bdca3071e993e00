package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/stream"
	"github.com/ClearXs/Violet/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	restore := silenceStderr()
	defer restore()

	m := newChatModel(ctx, backend, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

var stdioMu sync.Mutex

// silenceStderr 在 TUI 运行期间丢弃 stderr，避免日志打乱画面。
func silenceStderr() func() {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return func() {}
	}
	stdioMu.Lock()
	old := os.Stderr
	os.Stderr = devNull
	stdioMu.Unlock()
	return func() {
		stdioMu.Lock()
		os.Stderr = old
		stdioMu.Unlock()
		_ = devNull.Close()
	}
}

type submitResultMsg struct {
	reply ui.Reply
	err   error
}

type streamEventMsg struct {
	ev stream.Event
	ok bool
}

type streamTickMsg struct{}
type cancelMsg struct{}

type entry struct {
	role    message.Role
	label   string
	content string
}

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions

	entries []entry
	active  *stream.Stream

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	overrideContent map[int]string
	streaming       bool
	streamIdx       int
	streamPos       int
	streamFull      string

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "输入消息，回车发送；/help 查看命令"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	return chatModel{
		ctx:             ctx,
		backend:         backend,
		opts:            opts,
		viewport:        vp,
		input:           ti,
		spinner:         s,
		followTail:      true,
		overrideContent: map[int]string{},
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func submit(ctx context.Context, backend ui.ChatBackend, line string) tea.Cmd {
	return func() tea.Msg {
		reply, err := backend.Submit(ctx, line)
		return submitResultMsg{reply: reply, err: err}
	}
}

// nextEvent 读取流中的下一个事件。
func nextEvent(s *stream.Stream) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-s.Events()
		return streamEventMsg{ev: ev, ok: ok}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		if m.active != nil {
			m.active.Close()
		}
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		chatHeight := m.height - inputHeight - footerHeight
		if chatHeight < 1 {
			chatHeight = 1
		}

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight

		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case submitResultMsg:
		if msg.err != nil {
			m.thinking = false
			m.appendEntry(entry{role: message.RoleAssistant, content: fmt.Sprintf("发生错误：%v", msg.err)})
			return m, nil
		}
		if msg.reply.Stream == nil {
			m.thinking = false
			m.appendEntry(entry{role: message.RoleSystem, label: "COMMAND", content: msg.reply.Text})
			return m, nil
		}
		m.active = msg.reply.Stream
		return m, tea.Batch(nextEvent(m.active), m.spinner.Tick)

	case streamEventMsg:
		if !msg.ok || m.active == nil {
			m.active = nil
			m.thinking = false
			return m, nil
		}
		cmd := m.applyEvent(msg.ev)
		if msg.ev.Terminal() {
			m.active = nil
			m.thinking = false
			return m, cmd
		}
		return m, tea.Batch(cmd, nextEvent(m.active))

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+32)
		m.overrideContent[m.streamIdx] = m.streamFull[:m.streamPos]
		m.updateViewportContent(m.renderChat())
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			// 第一次 Ctrl+C 取消当前 step，空闲时退出
			if m.active != nil {
				m.active.Close()
				return m, nil
			}
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.thinking {
				return m, cmd
			}
			switch strings.ToLower(text) {
			case "exit", "quit":
				return m, tea.Quit
			}

			if !strings.HasPrefix(text, "/") {
				m.entries = append(m.entries, entry{role: message.RoleUser, content: text})
			}
			m.followTail = true
			m.updateViewportContent(m.renderChat())

			m.input.SetValue("")
			m.thinking = true
			return m, tea.Batch(cmd, submit(m.ctx, m.backend, text))
		}

		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applyEvent 把流事件转换为对话条目。
func (m *chatModel) applyEvent(ev stream.Event) tea.Cmd {
	switch ev.Kind {
	case stream.KindDelta:
		if strings.TrimSpace(ev.Text) == "" {
			return nil
		}
		m.appendEntry(entry{role: message.RoleAssistant, content: ev.Text})
		m.startStreaming(len(m.entries) - 1)
		if m.streaming {
			return streamTick()
		}
	case stream.KindToolResult, stream.KindMemory:
		if !m.opts.ShowTools {
			return nil
		}
		status := "ok"
		if ev.Result != nil && !ev.Result.OK() {
			status = "error"
		}
		m.appendEntry(entry{role: message.RoleTool, label: fmt.Sprintf("TOOL %s (%s)", ev.ToolName, status), content: ev.Text})
	case stream.KindSummary, stream.KindWarning, stream.KindCancelled:
		m.appendEntry(entry{role: message.RoleSystem, label: "SYSTEM", content: ui.FormatEvent(ev, m.opts.ShowTools)})
	case stream.KindError:
		m.appendEntry(entry{role: message.RoleAssistant, content: fmt.Sprintf("发生错误：%v", ev.Err)})
	}
	return nil
}

func (m *chatModel) appendEntry(e entry) {
	m.entries = append(m.entries, e)
	m.followTail = true
	m.updateViewportContent(m.renderChat())
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

// startStreaming 以打字机效果逐段展示第 idx 条回复。
func (m *chatModel) startStreaming(idx int) {
	if m.streaming && m.streamIdx >= 0 {
		delete(m.overrideContent, m.streamIdx)
	}
	m.streaming = false
	if idx < 0 || idx >= len(m.entries) {
		return
	}
	full := m.entries[idx].content
	if strings.TrimSpace(full) == "" {
		return
	}
	m.streaming = true
	m.streamIdx = idx
	m.streamFull = full
	m.streamPos = min(len(full), 32)
	preview := full[:m.streamPos]
	if strings.TrimSpace(preview) == "" {
		preview = "…"
	}
	m.overrideContent[idx] = preview
}

