package gateway

import (
	"context"

	"github.com/oshokin/alarm-bridge/internal/adapter"
	"github.com/oshokin/alarm-bridge/internal/correlation"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/reconcile"
)

var _ adapter.Sink = (*Service)(nil)

// Deliver routes one decoded item from the adapter.
func (s *Service) Deliver(ctx context.Context, in adapter.Inbound) {
	switch in.Kind {
	case adapter.InboundAck:
		if !s.commands.Acknowledge(in.CorrelationID) {
			logger.DebugKV(ctx, "Acknowledgement without pending command", "id", in.CorrelationID)
		}
	case adapter.InboundResend:
		if !s.commands.Retransmit(in.DeviceID) {
			logger.DebugKV(ctx, "Resend request without pending command", "device_id", in.DeviceID)
		}
	case adapter.InboundEvent:
		if in.Event != nil {
			s.handleEvent(ctx, in.Event)
		}
	}
}

// GatewayOnline publishes the panel link state when it changes.
func (s *Service) GatewayOnline(ctx context.Context, online bool) {
	prev := s.online.Swap(online)
	if prev == online && s.reported.Swap(true) {
		return
	}

	logger.InfoKV(ctx, "Panel link changed", "online", online)

	status := alarm.GatewayStatus{Online: online, TimeMs: s.clock.Now().UnixMilli()}
	if err := s.publisher.Publish(ctx, alarm.GatewayNotification(status)); err != nil {
		logger.WarnKV(ctx, "Failed to publish gateway status", "error", err)
	}
}

// TransportReset fails every pending command; their confirmations are lost with the connection.
func (s *Service) TransportReset(ctx context.Context, reason error) {
	if n := s.commands.CancelAll(reason); n > 0 {
		logger.WarnKV(ctx, "Pending commands dropped", "count", n, "reason", reason)
	}
}

func (s *Service) handleEvent(ctx context.Context, ev *adapter.Event) {
	ctx = logger.WithKV(ctx, "device_id", ev.DeviceID, "category", ev.Category.String(), "code", ev.Code)

	if ev.Time.IsZero() {
		ev.Time = s.clock.Now()
	}

	if ev.Category != alarm.CategoryDeviceOffline {
		s.setOnline(ctx, ev.DeviceID, true, ev.Time)
	}

	completion := correlation.Completion{
		Category: ev.Category,
		Zones:    ev.Zones,
		UserID:   ev.UserID,
		Time:     ev.Time,
	}

	var err error

	switch {
	case ev.HasState():
		completion.State, err = s.reconcile.ApplyObservedZones(ctx, reconcile.Observation{
			DeviceID:   ev.DeviceID,
			Armed:      ev.Armed,
			Active:     ev.Active,
			Mismatched: ev.Mismatched,
			Time:       ev.Time,
		})
	case ev.Category.IsAction():
		_, err = s.reconcile.ApplyAction(ctx, s.actionRequest(ev))
	case ev.Category.IsAlarm():
		_, err = s.reconcile.RaiseAlarm(ctx, reconcile.AlarmEvent{
			DeviceID: ev.DeviceID,
			Type:     ev.Type(),
			Active:   ev.Zones,
			Message:  ev.Message,
			Time:     ev.Time,
		})
	case ev.Category == alarm.CategoryBatteryLow, ev.Category == alarm.CategoryBatteryRestored:
		err = s.reconcile.ApplyBattery(ctx, ev.DeviceID, ev.Category == alarm.CategoryBatteryRestored, ev.Time)
	case ev.Category == alarm.CategoryMainsPowerLost, ev.Category == alarm.CategoryMainsPowerRestored:
		err = s.reconcile.ApplyPower(ctx, ev.DeviceID, ev.Category == alarm.CategoryMainsPowerRestored)
	case ev.Category == alarm.CategoryDeviceOffline:
		s.setOnline(ctx, ev.DeviceID, false, ev.Time)
	case ev.Category == alarm.CategoryUnauthorizedAction:
		logger.WarnKV(ctx, "Device refused a command", "message", ev.Message)
	case ev.Category == alarm.CategoryDeviceOnline, ev.Category == alarm.CategoryIgnorable:
	default:
		logger.DebugKV(ctx, "Unclassified event dropped")
	}

	if err != nil {
		logger.WarnKV(ctx, "Event not applied", "error", err)
	}

	if s.commands.Observe(ev.DeviceID, completion) {
		logger.DebugKV(ctx, "Pending command completed")
	}
}

// actionRequest attributes a panel action to the gateway command it answers, if any.
func (s *Service) actionRequest(ev *adapter.Event) reconcile.ActionRequest {
	req := reconcile.ActionRequest{
		DeviceID: ev.DeviceID,
		Kind:     alarm.CommandArm,
		Zones:    ev.Zones,
		Actor:    alarm.Actor{UserID: ev.UserID},
		Source:   alarm.SourcePanel,
		Time:     ev.Time,
	}

	if ev.Category == alarm.CategoryDisarm {
		req.Kind = alarm.CommandDisarm
	}

	cmd, ok := s.command(ev.DeviceID)
	if !ok || cmd.Kind != req.Kind {
		return req
	}

	req.Source = alarm.SourceCommand
	req.CommandUserID = cmd.UserID
	req.Actor.Auto = cmd.Auto

	if cmd.Auto {
		req.Source = alarm.SourceSchedule
	}

	return req
}
