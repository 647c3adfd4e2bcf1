package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultPlayerCommand 从标准输入读取音频并播放完退出
const DefaultPlayerCommand = "ffplay -nodisp -autoexit -loglevel quiet -"

const filePlaceholder = "{file}"

// Player 播放一段已合成的音频
type Player interface {
	Play(ctx context.Context, audio []byte, format string) error
}

// CommandPlayer 调用外部命令播放音频。
// 命令包含 {file} 时先写入临时文件，否则通过标准输入传入。
type CommandPlayer struct {
	name string
	args []string
}

// NewCommandPlayer 解析播放命令，空字符串使用默认命令
func NewCommandPlayer(command string) *CommandPlayer {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = strings.Fields(DefaultPlayerCommand)
	}
	return &CommandPlayer{name: fields[0], args: fields[1:]}
}

func (p *CommandPlayer) usesFile() bool {
	for _, a := range p.args {
		if strings.Contains(a, filePlaceholder) {
			return true
		}
	}
	return false
}

// Play 阻塞直到播放命令退出
func (p *CommandPlayer) Play(ctx context.Context, audio []byte, format string) error {
	if !p.usesFile() {
		cmd := exec.CommandContext(ctx, p.name, p.args...)
		cmd.Stdin = bytes.NewReader(audio)
		return p.run(cmd)
	}

	if format == "" {
		format = "mp3"
	}
	f, err := os.CreateTemp("", "chzzk-tts-*."+format)
	if err != nil {
		return fmt.Errorf("create temp audio file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp audio file: %w", err)
	}

	args := make([]string, len(p.args))
	for i, a := range p.args {
		args[i] = strings.ReplaceAll(a, filePlaceholder, f.Name())
	}
	return p.run(exec.CommandContext(ctx, p.name, args...))
}

func (p *CommandPlayer) run(cmd *exec.Cmd) error {
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("player %s: %w: %s", p.name, err, msg)
		}
		return fmt.Errorf("player %s: %w", p.name, err)
	}
	return nil
}
