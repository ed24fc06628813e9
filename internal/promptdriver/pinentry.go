// SPDX-License-Identifier: Apache-2.0

// Package promptdriver implements prompt.Dialog by driving an external
// pinentry binary over its line-oriented Assuan protocol on stdin/stdout —
// the same subprocess-over-stdio shape the teacher's wincred bridge uses
// for its helper process, adapted here to a protocol this daemon did not
// invent. No Assuan client library appears anywhere in the example corpus,
// so this one driver is built directly on os/exec and bufio; see DESIGN.md.
package promptdriver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/tks-project/secretsd/internal/prompt"
	"github.com/tks-project/secretsd/internal/tkserr"
)

// Pinentry drives a fresh pinentry subprocess for each Show call. binPath
// is typically "pinentry" resolved from $PATH. args is empty in production;
// tests use it to point binPath at a scripted stand-in shell.
type Pinentry struct {
	binPath string
	args    []string
}

// New returns a Pinentry driver invoking binPath (or "pinentry" if empty).
func New(binPath string) *Pinentry {
	if binPath == "" {
		binPath = "pinentry"
	}
	return &Pinentry{binPath: binPath}
}

// Show implements prompt.Dialog.
func (p *Pinentry) Show(ctx context.Context, kind prompt.Kind, text string) (prompt.Result, error) {
	cmd := exec.CommandContext(ctx, p.binPath, p.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return prompt.Result{}, tkserr.Backend("open pinentry stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return prompt.Result{}, tkserr.Backend("open pinentry stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return prompt.Result{}, tkserr.Backend("start pinentry", err)
	}

	sess := &session{stdin: stdin, reader: bufio.NewReader(stdout)}
	defer func() {
		stdin.Close()
		_ = cmd.Wait()
	}()

	done := make(chan struct{})
	var result prompt.Result
	var runErr error
	go func() {
		defer close(done)
		result, runErr = sess.run(kind, text)
	}()

	select {
	case <-done:
		return result, runErr
	case <-ctx.Done():
		stdin.Close()
		_ = cmd.Process.Kill()
		<-done
		return prompt.Result{}, ctx.Err()
	}
}

// session is the single Assuan exchange for one Show call.
type session struct {
	mu     sync.Mutex
	stdin  interface{ Write([]byte) (int, error) }
	reader *bufio.Reader
}

func (s *session) run(kind prompt.Kind, text string) (prompt.Result, error) {
	if _, err := s.readLine(); err != nil { // greeting
		return prompt.Result{}, err
	}
	if err := s.command(fmt.Sprintf("SETDESC %s", escapeAssuan(text))); err != nil {
		return prompt.Result{}, err
	}

	switch kind {
	case prompt.KindPassphrase:
		if err := s.command("SETPROMPT Passphrase:"); err != nil {
			return prompt.Result{}, err
		}
		data, err := s.data("GETPIN")
		if err != nil {
			if isCancel(err) {
				return prompt.Result{Confirmed: false}, nil
			}
			return prompt.Result{}, err
		}
		return prompt.Result{Confirmed: true, Passphrase: []byte(data)}, nil

	case prompt.KindConfirmation:
		err := s.command("CONFIRM")
		if err != nil {
			if isCancel(err) {
				return prompt.Result{Confirmed: false}, nil
			}
			return prompt.Result{}, err
		}
		return prompt.Result{Confirmed: true}, nil

	default: // KindMessage
		if err := s.command("MESSAGE"); err != nil {
			if isCancel(err) {
				return prompt.Result{Confirmed: false}, nil
			}
			return prompt.Result{}, err
		}
		return prompt.Result{Confirmed: true}, nil
	}
}

func (s *session) command(line string) error {
	if err := s.writeLine(line); err != nil {
		return err
	}
	resp, err := s.readLine()
	if err != nil {
		return err
	}
	return parseStatus(resp)
}

func (s *session) data(line string) (string, error) {
	if err := s.writeLine(line); err != nil {
		return "", err
	}
	var value string
	for {
		resp, err := s.readLine()
		if err != nil {
			return "", err
		}
		switch {
		case resp == "OK" || strings.HasPrefix(resp, "OK "):
			return value, nil
		case strings.HasPrefix(resp, "D "):
			value = unescapeAssuan(resp[2:])
		case strings.HasPrefix(resp, "ERR "):
			return "", assuanError(resp)
		}
	}
}

func (s *session) writeLine(line string) error {
	_, err := s.stdin.Write([]byte(line + "\n"))
	if err != nil {
		return tkserr.Backend("write to pinentry", err)
	}
	return nil
}

func (s *session) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", tkserr.Backend("read from pinentry", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseStatus(resp string) error {
	if resp == "OK" || strings.HasPrefix(resp, "OK ") {
		return nil
	}
	if strings.HasPrefix(resp, "ERR ") {
		return assuanError(resp)
	}
	return tkserr.Backend("unexpected pinentry response: "+resp, nil)
}

func assuanError(resp string) error {
	return errors.New(resp)
}

// isCancel reports whether err is the Assuan "operation cancelled" error
// pinentry returns when the user dismisses the dialog.
func isCancel(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "cancel")
}

// escapeAssuan percent-escapes the characters the Assuan line protocol
// treats specially (%, CR, LF) in a single command argument.
func escapeAssuan(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	s = strings.ReplaceAll(s, "\n", "%0A")
	if s == "" {
		return "(no description)"
	}
	return s
}

func unescapeAssuan(s string) string {
	s = strings.ReplaceAll(s, "%0A", "\n")
	s = strings.ReplaceAll(s, "%0D", "\r")
	s = strings.ReplaceAll(s, "%25", "%")
	return s
}
