// Package drive turns navigation moves into rover wire commands.
//
// Wire format is ASCII, colon delimited, one command per line:
//
//	F:<speed>:<value>   forward
//	B:<speed>:<value>   backward
//	G:<speed>:<value>   rotate left in place
//	H:<speed>:<value>   rotate right in place
//	S                   stop
//
// The firmware also accepts L/R (arc turns), M:<left>:<right> (manual),
// J:<x>:<y> (joystick) and V:<speed> (default speed); ParseCommand
// understands them so the simulator can act on any command.
package drive

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCommand is returned by ParseCommand for malformed input.
var ErrInvalidCommand = errors.New("drive: invalid command")

// Opcode is the leading character of a command.
type Opcode byte

const (
	OpForward     Opcode = 'F'
	OpBackward    Opcode = 'B'
	OpTurnLeft    Opcode = 'L'
	OpTurnRight   Opcode = 'R'
	OpRotateLeft  Opcode = 'G'
	OpRotateRight Opcode = 'H'
	OpStop        Opcode = 'S'
	OpManual      Opcode = 'M'
	OpJoystick    Opcode = 'J'
	OpSetSpeed    Opcode = 'V'
)

func (o Opcode) String() string {
	return string(rune(o))
}

// Command is one parsed or encoded wire command.
type Command struct {
	Op   Opcode
	Args []int // at most two
}

// StopCommand halts the motors.
var StopCommand = Command{Op: OpStop}

func (c Command) String() string {
	var b strings.Builder
	b.WriteByte(byte(c.Op))
	for _, a := range c.Args {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(a))
	}
	return b.String()
}

// Bytes returns the wire form without framing.
func (c Command) Bytes() []byte {
	return []byte(c.String())
}

// Speed returns the first argument, or 0.
func (c Command) Speed() int {
	if len(c.Args) > 0 {
		return c.Args[0]
	}
	return 0
}

// Value returns the second argument (duration or magnitude), or 0.
func (c Command) Value() int {
	if len(c.Args) > 1 {
		return c.Args[1]
	}
	return 0
}

// ParseCommand parses a wire command. Input is trimmed and upper-cased;
// extra arguments beyond two are rejected.
func ParseCommand(input string) (Command, error) {
	s := strings.ToUpper(strings.TrimSpace(input))
	if s == "" {
		return Command{}, fmt.Errorf("%w: empty", ErrInvalidCommand)
	}

	parts := strings.Split(s, ":")
	if len(parts[0]) != 1 {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidCommand, input)
	}
	cmd := Command{Op: Opcode(parts[0][0])}

	if len(parts) > 3 {
		return Command{}, fmt.Errorf("%w: too many arguments in %q", ErrInvalidCommand, input)
	}
	for _, p := range parts[1:] {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Command{}, fmt.Errorf("%w: bad argument %q in %q", ErrInvalidCommand, p, input)
		}
		cmd.Args = append(cmd.Args, n)
	}

	switch cmd.Op {
	case OpForward, OpBackward, OpTurnLeft, OpTurnRight, OpRotateLeft, OpRotateRight:
	case OpStop:
		cmd.Args = nil
	case OpManual, OpJoystick:
		if len(cmd.Args) != 2 {
			return Command{}, fmt.Errorf("%w: %s needs two arguments", ErrInvalidCommand, cmd.Op)
		}
	case OpSetSpeed:
		if len(cmd.Args) != 1 {
			return Command{}, fmt.Errorf("%w: V needs one argument", ErrInvalidCommand)
		}
	default:
		return Command{}, fmt.Errorf("%w: unknown opcode %q", ErrInvalidCommand, cmd.Op.String())
	}
	return cmd, nil
}
