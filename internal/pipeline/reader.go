// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"bufio"
	"errors"
	"io"
	"os"
	"syscall"

	"golang.org/x/text/transform"
)

// stderrWriter appends decoded stderr of one stage.
type stderrWriter struct {
	p     *Pipeline
	index int
}

func (w stderrWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.p.stderr[w.index].Write(b)
}

// startReaders starts one reader task per parent-side stream. Each task
// owns and closes its handle.
func (p *Pipeline) startReaders() {
	hasStdout := false
	for i, ss := range p.sets {
		if r := ss.CaptureStdout; r != nil {
			hasStdout = true
			p.readers.Go(func() { p.readLines(r) })
		}
		if r := ss.CaptureStderr; r != nil {
			p.readers.Go(func() { p.readStderr(i, r) })
		}
		if m := ss.PTY; m != nil {
			p.readers.Go(func() { p.copyTerminal(m) })
		}
	}
	if !hasStdout {
		close(p.lines)
	}
}

func (p *Pipeline) readLines(r *os.File) {
	defer close(p.lines)
	defer func() { _ = r.Close() }()

	br := bufio.NewReader(transform.NewReader(r, p.coord.encoding.NewDecoder()))
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case p.lines <- line:
			case <-p.abort:
				return
			}
		}
		if err != nil {
			p.readerDone("stdout", err)
			return
		}
	}
}

func (p *Pipeline) readStderr(index int, r *os.File) {
	defer func() { _ = r.Close() }()
	_, err := io.Copy(stderrWriter{p: p, index: index}, transform.NewReader(r, p.coord.encoding.NewDecoder()))
	p.readerDone("stderr", err)
}

func (p *Pipeline) copyTerminal(master *os.File) {
	defer func() { _ = master.Close() }()
	_, err := io.Copy(p.coord.termOutput, master)
	// The master reports EIO once every slave handle is closed.
	if errors.Is(err, syscall.EIO) {
		err = nil
	}
	p.readerDone("pty", err)
}

func (p *Pipeline) readerDone(stream string, err error) {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		p.coord.logger.Debug("reader closed", "id", p.id, "stream", stream)
		return
	}
	p.coord.logger.Debug("reader failed", "id", p.id, "stream", stream, "err", err)
}
