package trace

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
)

// StopFrame is one stepped-to location reported by the debugger: the
// program counter, source coordinates, the function owning it, and the
// call-stack depth (so the Driver can tell a call from a return without
// re-issuing `backtrace` on every step).
type StopFrame struct {
	PC       uint64
	Function string
	File     string
	Line     int
	Depth    int
	Exited   bool
}

// Adapter is the debugger collaborator interface (spec §6): `run`,
// `step`, `next`, `finish`, `print <expr>`, `backtrace`, `info locals`,
// line-delimited, MI-style or scripted-command. "Any equivalent adapter
// is acceptable" — Driver only depends on this interface.
type Adapter interface {
	// Version reports the debugger's self-reported version string, used
	// for the semver compatibility gate at Driver construction.
	Version(ctx context.Context) (string, error)
	Run(ctx context.Context) (StopFrame, error)
	Step(ctx context.Context) (StopFrame, error)
	Next(ctx context.Context) (StopFrame, error)
	Finish(ctx context.Context) (StopFrame, error)
	Print(ctx context.Context, expr string) (string, error)
	Backtrace(ctx context.Context) ([]StopFrame, error)
	InfoLocals(ctx context.Context) (map[string]string, error)
	Close() error
}

// stopLineRe matches a single scripted-command stop report line:
//
//	*stopped,addr=0x401020,func=main,file=leak.c,line=2,depth=1
var stopLineRe = regexp.MustCompile(
	`\*stopped,addr=0x([0-9a-fA-F]+),func=([^,]*),file=([^,]*),line=(\d+),depth=(\d+)`)

var exitedLineRe = regexp.MustCompile(`\*exited,code=(\d+)`)
var versionLineRe = regexp.MustCompile(`~"GNU gdb.*?(\d+\.\d+(?:\.\d+)?)`)

// MIAdapter drives a real debugger subprocess over its stdin/stdout,
// scripted in line-delimited commands, mirroring the framing the
// teacher's gdbserver uses on the server side of the same protocol
// family (one line in, one or more lines out).
type MIAdapter struct {
	cmd    *exec.Cmd
	writer io.WriteCloser
	reader *bufio.Scanner

	mu sync.Mutex
}

// NewMIAdapter launches debuggerPath against executable with args,
// optionally under an emulation prefix command (VEX_PLATFORM) that is
// shell-split with go-shellquote so a multi-word prefix like
// "qemu-arm -L /sysroot" is passed through correctly.
func NewMIAdapter(debuggerPath, emulationPrefix, executable string, args []string) (*MIAdapter, error) {
	cmdArgs := []string{"--interpreter=mi", "--args", executable}
	cmdArgs = append(cmdArgs, args...)

	if emulationPrefix != "" {
		prefixArgs, err := shellquote.Split(emulationPrefix)
		if err != nil {
			return nil, fmt.Errorf("invalid emulation prefix %q: %w", emulationPrefix, err)
		}
		full := append(append([]string{}, prefixArgs...), debuggerPath)
		full = append(full, cmdArgs...)
		debuggerPath = full[0]
		cmdArgs = full[1:]
	}

	cmd := exec.Command(debuggerPath, cmdArgs...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &MIAdapter{
		cmd:    cmd,
		writer: stdin,
		reader: bufio.NewScanner(stdout),
	}, nil
}

func (a *MIAdapter) send(cmd string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.writer.Write([]byte(cmd + "\n"))
	return err
}

func (a *MIAdapter) readStop(ctx context.Context) (StopFrame, error) {
	for a.reader.Scan() {
		line := a.reader.Text()
		if m := exitedLineRe.FindStringSubmatch(line); m != nil {
			return StopFrame{Exited: true}, nil
		}
		if m := stopLineRe.FindStringSubmatch(line); m != nil {
			pc, _ := strconv.ParseUint(m[1], 16, 64)
			ln, _ := strconv.Atoi(m[4])
			depth, _ := strconv.Atoi(m[5])
			return StopFrame{PC: pc, Function: m[2], File: m[3], Line: ln, Depth: depth}, nil
		}
	}
	if err := a.reader.Err(); err != nil {
		return StopFrame{}, err
	}
	return StopFrame{}, fmt.Errorf("trace: debugger closed without a stop report")
}

func (a *MIAdapter) Version(ctx context.Context) (string, error) {
	if err := a.send("-gdb-version"); err != nil {
		return "", err
	}
	for a.reader.Scan() {
		line := a.reader.Text()
		if m := versionLineRe.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
		if strings.HasPrefix(line, "^done") {
			break
		}
	}
	return "", fmt.Errorf("trace: could not determine debugger version")
}

func (a *MIAdapter) Run(ctx context.Context) (StopFrame, error) {
	if err := a.send("run"); err != nil {
		return StopFrame{}, err
	}
	return a.readStop(ctx)
}

func (a *MIAdapter) Step(ctx context.Context) (StopFrame, error) {
	if err := a.send("step"); err != nil {
		return StopFrame{}, err
	}
	return a.readStop(ctx)
}

func (a *MIAdapter) Next(ctx context.Context) (StopFrame, error) {
	if err := a.send("next"); err != nil {
		return StopFrame{}, err
	}
	return a.readStop(ctx)
}

func (a *MIAdapter) Finish(ctx context.Context) (StopFrame, error) {
	if err := a.send("finish"); err != nil {
		return StopFrame{}, err
	}
	return a.readStop(ctx)
}

func (a *MIAdapter) Print(ctx context.Context, expr string) (string, error) {
	if err := a.send("print " + expr); err != nil {
		return "", err
	}
	for a.reader.Scan() {
		line := a.reader.Text()
		if strings.HasPrefix(line, "~\"$") {
			return strings.TrimSuffix(strings.TrimPrefix(line, "~\""), "\""), nil
		}
		if strings.HasPrefix(line, "^done") {
			break
		}
	}
	return "", nil
}

func (a *MIAdapter) Backtrace(ctx context.Context) ([]StopFrame, error) {
	if err := a.send("backtrace"); err != nil {
		return nil, err
	}
	var frames []StopFrame
	for a.reader.Scan() {
		line := a.reader.Text()
		if m := stopLineRe.FindStringSubmatch(line); m != nil {
			pc, _ := strconv.ParseUint(m[1], 16, 64)
			ln, _ := strconv.Atoi(m[4])
			depth, _ := strconv.Atoi(m[5])
			frames = append(frames, StopFrame{PC: pc, Function: m[2], File: m[3], Line: ln, Depth: depth})
		}
		if strings.HasPrefix(line, "^done") {
			break
		}
	}
	return frames, nil
}

func (a *MIAdapter) InfoLocals(ctx context.Context) (map[string]string, error) {
	if err := a.send("info locals"); err != nil {
		return nil, err
	}
	out := map[string]string{}
	for a.reader.Scan() {
		line := a.reader.Text()
		if strings.HasPrefix(line, "^done") {
			break
		}
		if idx := strings.Index(line, "="); idx > 0 {
			out[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
		}
	}
	return out, nil
}

func (a *MIAdapter) Close() error {
	if a.cmd == nil || a.cmd.Process == nil {
		return nil
	}
	return a.cmd.Process.Kill()
}
