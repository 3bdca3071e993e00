package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ClearXs/Violet/internal/agent"
	"github.com/ClearXs/Violet/internal/stream"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	reader := bufio.NewReader(in)
	name := opts.AgentName
	if name == "" {
		name = "Violet"
	}
	fmt.Fprintf(out, "正在与 %s 对话。输入 /help 查看命令，exit/quit 退出。\n", name)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("读取输入失败: %w", err)
			}
			if strings.TrimSpace(line) == "" {
				fmt.Fprintln(out, "\n已退出。")
				return nil
			}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, "已退出。")
			return nil
		}

		reply, err := backend.Submit(ctx, line)
		if err != nil {
			if errors.Is(err, agent.ErrInvalidInput) || errors.Is(err, agent.ErrAgentNotFound) {
				fmt.Fprintf(out, "提示: %v\n\n", err)
				continue
			}
			return err
		}
		if reply.Stream == nil {
			fmt.Fprintln(out, reply.Text)
			fmt.Fprintln(out)
			continue
		}
		final := printStream(out, reply.Stream, opts.ShowTools)
		fmt.Fprintln(out)
		if final.Kind == stream.KindError && errors.Is(final.Err, agent.ErrFatal) {
			return final.Err
		}
	}
}

// printStream 输出事件直到终止事件，并返回终止事件。
func printStream(w io.Writer, s *stream.Stream, showTools bool) stream.Event {
	replied := false
	for ev := range s.Events() {
		if ev.Kind == stream.KindDelta && strings.TrimSpace(ev.Text) != "" {
			replied = true
		}
		if ev.Kind == stream.KindDone && replied {
			continue
		}
		if line := FormatEvent(ev, showTools); line != "" {
			fmt.Fprintln(w, line)
		}
	}
	return s.Wait()
}

// FormatEvent 把事件渲染为一行文本；不需要展示的事件返回空串。
func FormatEvent(ev stream.Event, showTools bool) string {
	switch ev.Kind {
	case stream.KindDelta:
		if strings.TrimSpace(ev.Text) == "" {
			return ""
		}
		return "助手: " + strings.TrimSpace(ev.Text)
	case stream.KindToolResult:
		if !showTools {
			return ""
		}
		status := "ok"
		if ev.Result != nil && !ev.Result.OK() {
			status = "error"
		}
		return fmt.Sprintf("[工具 %s %s] %s", ev.ToolName, status, truncate(ev.Text, 200))
	case stream.KindMemory:
		if !showTools {
			return ""
		}
		return fmt.Sprintf("[记忆] %s", truncate(ev.Text, 200))
	case stream.KindSummary:
		return fmt.Sprintf("[上下文已压缩，移出 %d 条消息]", ev.Evicted)
	case stream.KindWarning:
		return "[上下文即将达到上限]"
	case stream.KindDone:
		if strings.TrimSpace(ev.Text) == "" {
			return "助手: (无文本输出)"
		}
		return "助手: " + strings.TrimSpace(ev.Text)
	case stream.KindError:
		return fmt.Sprintf("发生错误：%v", ev.Err)
	case stream.KindCancelled:
		return "(已取消)"
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
