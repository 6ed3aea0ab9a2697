package gateway

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-bridge/internal/correlation"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/reconcile"
	repo "github.com/oshokin/alarm-bridge/internal/repository/state"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarmbridge.v1.Gateway"

// Full method names.
const (
	SendCommandMethod    = "/" + ServiceName + "/SendCommand"
	GetDeviceStateMethod = "/" + ServiceName + "/GetDeviceState"
)

// Service abstracts the gateway operations the transport layer depends on.
type Service interface {
	Execute(ctx context.Context, req alarm.CommandRequest) (*alarm.DeviceState, error)
	DeviceState(ctx context.Context, deviceID int) (*alarm.DeviceState, error)
}

// Handler is the server side of alarmbridge.v1.Gateway.
type Handler interface {
	SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetDeviceState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes alarmbridge.v1.Gateway for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Same shape as generated descriptors.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendCommand", Handler: sendCommandHandler},
		{MethodName: "GetDeviceState", Handler: getDeviceStateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "alarmbridge/v1/gateway.proto",
}

// Server implements Handler on top of a Service.
type Server struct {
	// service provides the gateway operations.
	service Service
}

var _ Handler = (*Server)(nil)

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{service: service}
}

// Register adds the gateway service to a gRPC server.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}

// SendCommand runs a test, arm or disarm and returns the confirmed device state.
func (s *Server) SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	cmd, err := ParseCommand(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if cmd.Kind != alarm.CommandTest && cmd.Zones != nil && !cmd.Zones.Any() {
		return nil, status.Error(codes.InvalidArgument, "zones must select at least one zone")
	}

	ctx = logger.WithKV(ctx, "device_id", cmd.DeviceID, "command", cmd.Kind.String())
	logger.InfoKV(ctx, "Command requested over gRPC", "zones", cmd.Zones.String(), "user_id", cmd.UserID)

	st, err := s.service.Execute(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}

	return s.stateResponse(st)
}

// GetDeviceState returns the cached state of a device.
func (s *Server) GetDeviceState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	id, err := ParseDevice(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	st, err := s.service.DeviceState(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}

	return s.stateResponse(st)
}

func (s *Server) stateResponse(st *alarm.DeviceState) (*structpb.Struct, error) {
	if st == nil {
		return nil, status.Error(codes.NotFound, "device state is unknown")
	}

	msg, err := StateMessage(st)
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode state")
	}

	return msg, nil
}

// toStatus maps gateway errors to gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, repo.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, correlation.ErrBusy):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, correlation.ErrNoResponse):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, correlation.ErrCancelled):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, correlation.ErrRejected),
		errors.Is(err, reconcile.ErrUnauthorizedUser),
		errors.Is(err, reconcile.ErrArmPeriodViolation):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func sendCommandHandler(
	srv any,
	ctx context.Context, //nolint:revive // Argument order is fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	h, _ := srv.(Handler)
	if interceptor == nil {
		return h.SendCommand(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendCommandMethod}

	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		msg, _ := req.(*structpb.Struct)

		return h.SendCommand(ctx, msg)
	})
}

func getDeviceStateHandler(
	srv any,
	ctx context.Context, //nolint:revive // Argument order is fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	h, _ := srv.(Handler)
	if interceptor == nil {
		return h.GetDeviceState(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetDeviceStateMethod}

	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		msg, _ := req.(*structpb.Struct)

		return h.GetDeviceState(ctx, msg)
	})
}
