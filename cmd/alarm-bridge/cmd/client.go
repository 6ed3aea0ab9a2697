package cmd

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	api "github.com/oshokin/alarm-bridge/internal/api/grpc/gateway"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

var (
	// errNoControlAddress indicates that neither --address nor grpc_listen is set.
	errNoControlAddress = errors.New("no control service address configured")
	// errBadLevel is returned for an unknown --log-level value.
	errBadLevel = errors.New("unknown log level")
)

func errUnknownLevel(level string) error {
	return fmt.Errorf("%w: %q", errBadLevel, level)
}

// newStateCommand prints the cached state of a device.
func newStateCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "state <device-id>",
		Short: "Print the cached state of a device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("device id: %w", err)
			}

			client, err := dialControl(cmd, address)
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			st, err := client.GetDeviceState(cmd.Context(), deviceID)
			if err != nil {
				return err
			}

			printState(cmd, st)

			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "control service address, defaults to grpc_listen")

	return cmd
}

// newSendCommand sends a test, arm or disarm through a running gateway.
func newSendCommand() *cobra.Command {
	var (
		address string
		userID  int
	)

	cmd := &cobra.Command{
		Use:   "send <device-id> <test|arm|disarm> [zones]",
		Short: "Send a command to a device and wait for its confirmation.",
		Long: `Sends a command through a running gateway and prints the confirmed state.

Zones are given as a string of flags in zone order, e.g. 1100 for the first two
zones. Arm and disarm without zones act on every zone.`,
		Args: cobra.RangeArgs(2, 3), //nolint:mnd // Device id, kind and optional zones.
		RunE: func(cmd *cobra.Command, args []string) error {
			req := alarm.CommandRequest{UserID: userID}

			var err error

			if req.DeviceID, err = strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("device id: %w", err)
			}

			if req.Kind, err = alarm.ParseCommandKind(args[1]); err != nil {
				return err
			}

			if len(args) > 2 { //nolint:mnd // Optional zones argument.
				if req.Zones, err = alarm.ParseZoneVector(args[2]); err != nil {
					return err
				}
			}

			client, err := dialControl(cmd, address)
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			st, err := client.SendCommand(cmd.Context(), req)
			if err != nil {
				return err
			}

			printState(cmd, st)

			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "control service address, defaults to grpc_listen")
	cmd.Flags().IntVarP(&userID, "user", "u", alarm.NoUser, "panel user number")

	return cmd
}

func dialControl(cmd *cobra.Command, address string) (*api.Client, error) {
	if address == "" {
		settings, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}

		if address, err = controlAddress(settings.GRPCListen); err != nil {
			return nil, err
		}
	}

	return api.Dial(cmd.Context(), address)
}

// controlAddress turns a listen address such as ":50051" into a dialable one.
func controlAddress(listen string) (string, error) {
	if listen == "" {
		return "", errNoControlAddress
	}

	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid listen address format %q: %w", listen, err)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return net.JoinHostPort(host, port), nil
}

func printState(cmd *cobra.Command, st *alarm.DeviceState) {
	out := cmd.OutOrStdout()

	_, _ = fmt.Fprintf(out, "device:     %d\n", st.DeviceID)
	_, _ = fmt.Fprintf(out, "armed:      %s\n", st.Armed)
	_, _ = fmt.Fprintf(out, "active:     %s\n", st.Active)
	_, _ = fmt.Fprintf(out, "mismatched: %s\n", st.Mismatched)
	_, _ = fmt.Fprintf(out, "observed:   %s\n", st.ObservedAt().Format("2006-01-02 15:04:05"))
}
