package runner

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"nbgrade/internal/logging"
	"nbgrade/internal/notebook"
)

//go:embed driver.py
var pythonDriver string

const maxReplyBytes = 64 * 1024 * 1024

// PythonBackend runs cells in a persistent python3 process.
type PythonBackend struct {
	binary string
}

// NewPythonBackend creates a backend for the given interpreter binary.
func NewPythonBackend(binary string) *PythonBackend {
	if binary == "" {
		binary = "python3"
	}
	return &PythonBackend{binary: binary}
}

func (b *PythonBackend) Name() string { return "python" }

// Start launches the driver process.
func (b *PythonBackend) Start(ctx context.Context, dir string) (Session, error) {
	cmd := exec.Command(b.binary, "-u", "-c", pythonDriver)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"MPLBACKEND=Agg",
		"PYTHONUNBUFFERED=1",
		"PYTHONIOENCODING=utf-8",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &KernelError{Backend: b.Name(), Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &KernelError{Backend: b.Name(), Err: err}
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &KernelError{Backend: b.Name(), Err: err}
	}
	logging.Kernel("Started %s driver (pid=%d, dir=%s)", b.binary, cmd.Process.Pid, dir)

	s := &pythonSession{
		cmd:        cmd,
		stdin:      stdin,
		stderr:     stderr,
		replies:    make(chan pythonReply),
		closed:     make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go s.readLoop(stdout)
	return s, nil
}

type pythonRequest struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
}

type pythonReply struct {
	Index  int     `json:"index"`
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Result *string `json:"result,omitempty"`
	Error  *struct {
		EName     string   `json:"ename"`
		EValue    string   `json:"evalue"`
		Traceback []string `json:"traceback"`
	} `json:"error,omitempty"`
}

type pythonSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *lockedBuffer

	replies    chan pythonReply
	closed     chan struct{}
	readerDone chan struct{}
	readErr    error

	closeOnce sync.Once
}

func (s *pythonSession) readLoop(r io.Reader) {
	defer close(s.readerDone)
	defer close(s.replies)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplyBytes)
	for scanner.Scan() {
		var reply pythonReply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
			s.readErr = fmt.Errorf("decode driver reply: %w", err)
			return
		}
		select {
		case s.replies <- reply:
		case <-s.closed:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.readErr = err
	} else {
		s.readErr = io.EOF
	}
}

// Exec sends one cell to the driver and waits for its reply.
func (s *pythonSession) Exec(ctx context.Context, index int, source string) ([]notebook.Output, error) {
	line, err := json.Marshal(pythonRequest{Index: index, Source: source})
	if err != nil {
		return nil, err
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		return nil, s.died(err)
	}

	select {
	case reply, ok := <-s.replies:
		if !ok {
			<-s.readerDone
			return nil, s.died(s.readErr)
		}
		return replyOutputs(reply)
	case <-ctx.Done():
		logging.KernelDebug("Cell %d interrupted: %v", index, ctx.Err())
		s.kill()
		return nil, ctx.Err()
	}
}

func replyOutputs(reply pythonReply) ([]notebook.Output, error) {
	var outputs []notebook.Output
	if reply.Stdout != "" {
		outputs = append(outputs, notebook.Output{OutputType: notebook.OutputStream, Name: "stdout", Text: reply.Stdout})
	}
	if reply.Stderr != "" {
		outputs = append(outputs, notebook.Output{OutputType: notebook.OutputStream, Name: "stderr", Text: reply.Stderr})
	}
	if reply.Result != nil {
		outputs = append(outputs, notebook.Output{
			OutputType: notebook.OutputExecuteResult,
			Data:       map[string]any{"text/plain": *reply.Result},
		})
	}
	if reply.Error != nil {
		ce := &CellError{EName: reply.Error.EName, EValue: reply.Error.EValue, Traceback: reply.Error.Traceback}
		outputs = append(outputs, errorOutput(ce))
		return outputs, ce
	}
	return outputs, nil
}

func (s *pythonSession) died(err error) error {
	return &KernelError{Backend: "python", Err: fmt.Errorf("driver exited: %w", err), Stderr: s.stderr.String()}
}

func (s *pythonSession) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// Close stops the driver and reaps the reader goroutine.
func (s *pythonSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.stdin.Close()

		select {
		case <-s.readerDone:
		case <-time.After(2 * time.Second):
			s.kill()
			<-s.readerDone
		}
		if werr := s.cmd.Wait(); werr != nil {
			logging.KernelDebug("Python driver exit: %v", werr)
		}
		logging.KernelDebug("Python driver stopped")
	})
	return nil
}
