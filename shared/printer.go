package shared

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

type StringWriteCloser interface {
	io.Closer
	io.StringWriter
}

type WriteCloser struct {
	w io.WriteCloser
}

func NewWriteCloser(w io.WriteCloser) StringWriteCloser {
	if w == nil {
		return nil
	}
	return &WriteCloser{w: w}
}

func (wc *WriteCloser) WriteString(s string) (n int, err error) {
	return wc.w.Write([]byte(s))
}

func (wc *WriteCloser) Close() error {
	return wc.w.Close()
}

// Printer writes indented, human-facing output to one or more hooks. It also
// owns a single overwritable status line that regular writes never clobber.
type Printer struct {
	mu     sync.Mutex
	indStr string
	hooks  []StringWriteCloser
	status bool
}

func NewPrinter(indentString string, hooks ...StringWriteCloser) (*Printer, error) {
	if len(hooks) == 0 {
		return nil, errors.New("no hook provided")
	}
	for _, hook := range hooks {
		if hook == nil {
			return nil, errors.New("a nil pointed hook is given")
		}
	}
	return &Printer{
		indStr: indentString,
		hooks:  hooks,
	}, nil
}

func (p *Printer) Write(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(p.indent(s, ind))
}

func (p *Printer) Writeln(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(p.indent(s, ind) + "\n")
}

// Status replaces the current status line in place.
func (p *Printer) Status(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.emit("\r\033[K" + line); err != nil {
		return err
	}
	p.status = true
	return nil
}

func (p *Printer) indent(s string, ind int) string {
	prefix := strings.Repeat(p.indStr, ind)
	var b strings.Builder
	first := true
	for line := range strings.SplitSeq(s, "\n") {
		if !first {
			b.WriteString("\n")
		}
		first = false
		b.WriteString(prefix)
		b.WriteString(line)
	}
	return b.String()
}

// write moves past an active status line before emitting s.
func (p *Printer) write(s string) error {
	if p.status {
		s = "\n" + s
		p.status = false
	}
	return p.emit(s)
}

func (p *Printer) emit(s string) error {
	for _, hook := range p.hooks {
		if _, err := hook.WriteString(s); err != nil {
			return fmt.Errorf("on writing to hook: %w", err)
		}
	}
	return nil
}

func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hook := range p.hooks {
		if err := hook.Close(); err != nil {
			return fmt.Errorf("on closing hook: %w", err)
		}
	}
	return nil
}
