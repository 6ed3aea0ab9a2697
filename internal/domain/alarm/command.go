package alarm

import (
	"errors"
	"fmt"
	"strings"
)

// CommandKind is the remote command sent to a device.
type CommandKind int

// Supported command kinds.
const (
	CommandTest CommandKind = iota
	CommandArm
	CommandDisarm
)

// ErrUnknownCommand is returned by ParseCommandKind.
var ErrUnknownCommand = errors.New("unknown command")

// String returns the wire name used in JSON-RPC methods and logs.
func (k CommandKind) String() string {
	switch k {
	case CommandTest:
		return "test"
	case CommandArm:
		return "arm"
	case CommandDisarm:
		return "disarm"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// ParseCommandKind maps "test", "arm" and "disarm" to a CommandKind.
func ParseCommandKind(s string) (CommandKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "test":
		return CommandTest, nil
	case "arm":
		return CommandArm, nil
	case "disarm":
		return CommandDisarm, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Target returns the armed flag an Arm or Disarm leaves behind.
func (k CommandKind) Target() int {
	if k == CommandArm {
		return 1
	}

	return 0
}

// CompletionCategory is the event category that confirms the command was executed.
func (k CommandKind) CompletionCategory() Category {
	switch k {
	case CommandArm:
		return CategoryArm
	case CommandDisarm:
		return CategoryDisarm
	default:
		return CategoryUnknown
	}
}

// CommandRequest asks the gateway to run a command on a device.
type CommandRequest struct {
	DeviceID int
	Kind     CommandKind
	// Zones selects the zones of an Arm or Disarm; empty means every zone.
	Zones ZoneVector
	// UserID is the operator on whose behalf the command runs, NoUser when anonymous.
	UserID int
	// Auto marks commands issued by the arm-control scheduler.
	Auto bool
}
