package script

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Op is a script command name.
type Op string

const (
	OpPush     Op = "push"
	OpPop      Op = "pop"
	OpPair     Op = "pair"
	OpDup      Op = "dup"
	OpCollect  Op = "collect"
	OpStats    Op = "stats"
	OpPrint    Op = "print"
	OpRoots    Op = "roots"
	OpTeardown Op = "teardown"
)

// arity is the number of arguments each op takes.
var arity = map[Op]int{
	OpPush:     1,
	OpPop:      0,
	OpPair:     0,
	OpDup:      0,
	OpCollect:  0,
	OpStats:    0,
	OpPrint:    0,
	OpRoots:    0,
	OpTeardown: 0,
}

// maxRepeat bounds the product of nested repeat counts on one line.
const maxRepeat = 1 << 24

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad argument")
)

// Command is one parsed script line.
type Command struct {
	Line  int
	Op    Op
	Value int64 // push only
	Count int   // times to run, from repeat prefixes; at least 1
	Text  string
}

func (c Command) String() string {
	s := string(c.Op)
	if c.Op == OpPush {
		s += " " + strconv.FormatInt(c.Value, 10)
	}
	if c.Count > 1 {
		s = fmt.Sprintf("repeat %d %s", c.Count, s)
	}
	return s
}

// ParseError reports the line a script failed to parse on.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseFile reads a script file and returns its commands.
func ParseFile(path string) ([]Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// ParseLines parses script content from a string.
func ParseLines(content string) ([]Command, error) {
	return Parse(strings.NewReader(content))
}

// Parse reads commands one per line. Blank lines and # comments are skipped.
func Parse(r io.Reader) ([]Command, error) {
	var cmds []Command
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		cmd, err := ParseLine(lineNo, scanner.Text())
		if err != nil {
			return nil, err
		}
		if cmd != nil {
			cmds = append(cmds, *cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan script: %w", err)
	}
	return cmds, nil
}

// ParseLine parses a single line. It returns nil for blank and comment lines.
func ParseLine(lineNo int, line string) (*Command, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return nil, &ParseError{Line: lineNo, Err: err}
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cmd := &Command{Line: lineNo, Count: 1, Text: strings.TrimSpace(line)}
	for len(fields) > 0 && strings.ToLower(fields[0]) == "repeat" {
		if len(fields) < 3 {
			return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("%w: repeat needs a count and a command", ErrBadArgument)}
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("%w: repeat count %q", ErrBadArgument, fields[1])}
		}
		if cmd.Count > maxRepeat/n {
			return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("%w: repeat count too large", ErrBadArgument)}
		}
		cmd.Count *= n
		fields = fields[2:]
	}

	cmd.Op = Op(strings.ToLower(fields[0]))
	want, ok := arity[cmd.Op]
	if !ok {
		return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("%w %q", ErrUnknownCommand, fields[0])}
	}
	args := fields[1:]
	if len(args) != want {
		return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrBadArgument, cmd.Op, want, len(args))}
	}
	if cmd.Op == OpPush {
		v, err := strconv.ParseInt(args[0], 0, 64)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("%w: push value %q", ErrBadArgument, args[0])}
		}
		cmd.Value = v
	}
	return cmd, nil
}
