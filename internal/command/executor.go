// Package command bridges cloud-issued command descriptors to the local
// device dispatch boundary and reports outcomes back.
package command

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"station-bridge/internal/monitor"
)

// Type enumerates the locally dispatchable command kinds.
type Type uint8

const (
	TypeRestart Type = iota + 1
	TypeShutdown
	TypeResetConfig
	TypeUpdateFirmware
	TypeRunDiagnostic
	TypeSetParameter
)

var typeNames = map[string]Type{
	"RESTART":         TypeRestart,
	"SHUTDOWN":        TypeShutdown,
	"RESET_CONFIG":    TypeResetConfig,
	"UPDATE_FIRMWARE": TypeUpdateFirmware,
	"RUN_DIAGNOSTIC":  TypeRunDiagnostic,
	"SET_PARAMETER":   TypeSetParameter,
}

func (t Type) String() string {
	for name, tt := range typeNames {
		if tt == t {
			return name
		}
	}
	return fmt.Sprintf("command(%d)", uint8(t))
}

// ParseType resolves a cloud-supplied command type string,
// case-insensitively.
func ParseType(s string) (Type, bool) {
	t, ok := typeNames[strings.ToUpper(strings.TrimSpace(s))]
	return t, ok
}

// PendingCommand is one cloud-issued command descriptor.
type PendingCommand struct {
	ID     string
	Type   string
	Params map[string]string
}

// Result is reported back to the cloud per command.
type Result struct {
	Success    bool
	Output     string
	ReturnCode int
	Error      string
}

// ResultPayload is the device-side outcome of a dispatched command.
type ResultPayload struct {
	Output     string
	ReturnCode int
}

// CloudClient is the cloud-side collaborator boundary.
type CloudClient interface {
	GetPendingCommands(stationID string) ([]PendingCommand, error)
	ReportCommandResult(stationID, commandID string, result Result) error
}

// DeviceManager is the local dispatch boundary.
type DeviceManager interface {
	ExecuteCommand(ctx context.Context, cmdType Type, params []byte) (*ResultPayload, error)
}

// Recorder receives every executed command for the audit trail. Optional.
type Recorder interface {
	RecordCommand(ctx context.Context, commandID string, cmdType string, params string, result Result) error
}

// Executor fetches pending commands, dispatches them locally and reports
// results.
type Executor struct {
	cloud     CloudClient
	devices   DeviceManager
	recorder  Recorder
	stationID string
}

func NewExecutor(stationID string, cloud CloudClient, devices DeviceManager) *Executor {
	return &Executor{cloud: cloud, devices: devices, stationID: stationID}
}

// SetRecorder attaches an audit recorder. Record failures are logged, never
// propagated into command results.
func (e *Executor) SetRecorder(r Recorder) { e.recorder = r }

// ProcessPending fetches the station's pending commands and executes each
// in order, reporting every result back to the cloud. An unrecognized type
// becomes a structured failure result, never an error out of this method;
// only the fetch itself can fail.
func (e *Executor) ProcessPending(ctx context.Context) error {
	pending, err := e.cloud.GetPendingCommands(e.stationID)
	if err != nil {
		return fmt.Errorf("fetch pending commands: %w", err)
	}
	for _, pc := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		result := e.execute(ctx, pc)
		e.record(ctx, pc, result)
		if err := e.cloud.ReportCommandResult(e.stationID, pc.ID, result); err != nil {
			log.Printf("command: report result for %s: %v", pc.ID, err)
		}
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, pc PendingCommand) Result {
	cmdType, ok := ParseType(pc.Type)
	if !ok {
		monitor.CommandsExecuted.WithLabelValues("unrecognized").Inc()
		return Result{
			Success:    false,
			ReturnCode: -1,
			Error:      fmt.Sprintf("unrecognized command type %q", pc.Type),
		}
	}
	return e.dispatch(ctx, cmdType, pc.Params)
}

// ExecuteLocalCommand dispatches a command directly, bypassing the cloud
// round-trip.
func (e *Executor) ExecuteLocalCommand(ctx context.Context, cmdType Type, params map[string]string) Result {
	result := e.dispatch(ctx, cmdType, params)
	e.record(ctx, PendingCommand{ID: "local", Type: cmdType.String(), Params: params}, result)
	return result
}

func (e *Executor) dispatch(ctx context.Context, cmdType Type, params map[string]string) Result {
	payload, err := e.devices.ExecuteCommand(ctx, cmdType, EncodeParams(params))
	if err != nil {
		monitor.CommandsExecuted.WithLabelValues("error").Inc()
		return Result{Success: false, ReturnCode: -1, Error: err.Error()}
	}
	if payload.ReturnCode == 0 {
		monitor.CommandsExecuted.WithLabelValues("ok").Inc()
	} else {
		monitor.CommandsExecuted.WithLabelValues("failed").Inc()
	}
	return Result{
		Success:    payload.ReturnCode == 0,
		Output:     payload.Output,
		ReturnCode: payload.ReturnCode,
	}
}

func (e *Executor) record(ctx context.Context, pc PendingCommand, result Result) {
	if e.recorder == nil {
		return
	}
	params := string(EncodeParams(pc.Params))
	if err := e.recorder.RecordCommand(ctx, pc.ID, pc.Type, params, result); err != nil {
		log.Printf("command: audit record for %s: %v", pc.ID, err)
	}
}

// EncodeParams flattens params into deterministic key=value pairs separated
// by ';', sorted by key.
func EncodeParams(params map[string]string) []byte {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return []byte(strings.Join(pairs, ";"))
}
