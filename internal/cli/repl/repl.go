package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"eventflyer/internal/cli/command"
	httpclient "eventflyer/internal/cli/http"
	pkgerrors "eventflyer/pkg/errors"

	"github.com/google/shlex"
)

var errExit = errors.New("exit")

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	prettyJSON   bool
	reader       *bufio.Reader
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, prettyJSON bool, in io.Reader, out io.Writer) *Session {
	return &Session{
		client:       client,
		commands:     commands,
		prettyJSON:   prettyJSON,
		reader:       bufio.NewReader(in),
		outputWriter: bufio.NewWriter(out),
	}
}

// Run reads commands until EOF or exit.
func (s *Session) Run(ctx context.Context) {
	for {
		_, _ = s.outputWriter.WriteString("flyer> ")
		_ = s.outputWriter.Flush()
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			s.printLine("error: %v", err)
		}
	}
}

// Exec runs a single input line.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if s.handleSystemCommand(line) {
		return nil
	}
	if line == "exit" || line == "quit" {
		s.printLine("bye")
		return errExit
	}
	return s.handleCommand(ctx, line)
}

func (s *Session) handleSystemCommand(line string) bool {
	switch line {
	case "help":
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if line == "show config" {
		s.printLine("base: %s", s.client.BaseURL())
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8090")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := fmt.Sprintf("%s %s", tokens[0], tokens[1])
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	if cmd.Key() == "flyer sweep" {
		s.summarizeSweep(resp.Body)
	}
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.printLine("%s:", prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) summarizeSweep(body []byte) {
	type failure struct {
		EventID string `json:"event_id"`
		Stage   string `json:"stage"`
		Error   string `json:"error"`
	}
	type report struct {
		Cutoff    time.Time `json:"cutoff"`
		WithFlyer int       `json:"with_flyer"`
		Cleaned   int       `json:"cleaned"`
		Failed    []failure `json:"failed"`
	}
	var resp struct {
		Code pkgerrors.ErrorCode `json:"code"`
		Data report              `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code != pkgerrors.Success {
		return
	}
	s.printLine("cleaned %d of %d expired flyers (cutoff %s)", resp.Data.Cleaned, resp.Data.WithFlyer, resp.Data.Cutoff.Format(time.RFC3339))
	for _, f := range resp.Data.Failed {
		s.printLine("  %s failed at %s: %s", f.EventID, f.Stage, f.Error)
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout | show config")
	s.printLine("commands:")
	for _, key := range command.SortedKeys(s.commands) {
		s.printLine("  %-14s %s", key, s.commands[key].Summary)
	}
	s.printLine("examples:")
	s.printLine("  events get id=E1")
	s.printLine("  flyer attach name=flyers/E1.png")
	s.printLine("  flyer sweep")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
