package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/audit"
	"github.com/joao-cbj/silo-watch-backend/internal/correlation"
	"github.com/joao-cbj/silo-watch-backend/internal/gateway"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/config"
	"github.com/joao-cbj/silo-watch-backend/internal/metrics"
	"github.com/joao-cbj/silo-watch-backend/internal/silo"
)

// TimeoutPolicy decides what a timed-out desintegrate or rename does.
type TimeoutPolicy string

const (
	// PolicyReject fails the operation and leaves the silo untouched.
	PolicyReject TimeoutPolicy = config.TimeoutPolicyReject

	// PolicyLocalOnly applies the change locally and reports it as not
	// confirmed by the gateway.
	PolicyLocalOnly TimeoutPolicy = config.TimeoutPolicyLocalOnly
)

// Success statuses per action, compared case-insensitively.
var (
	provisionedStatuses   = []string{"provisionado", "provisioned"}
	desintegratedStatuses = []string{"desintegrado", "desintegrated", "resetado", "reset"}
	renamedStatuses       = []string{"nome_atualizado", "renomeado", "renamed"}
)

// Logger is the logging surface used by this package. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Journal records command exchanges. *audit.SQLiteRepository implements it.
type Journal interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Mirror receives command outcomes for time-series storage.
// *influxdb.Client implements it.
type Mirror interface {
	WriteCommand(action, result string, d time.Duration, at time.Time)
}

// Config holds per-action deadlines and the timeout policy.
type Config struct {
	Deadlines     map[gateway.Action]time.Duration
	TimeoutPolicy TimeoutPolicy
}

// DefaultConfig returns the standard deadlines and the reject policy.
func DefaultConfig() Config {
	return Config{
		Deadlines: map[gateway.Action]time.Duration{
			gateway.ActionPing:         5 * time.Second,
			gateway.ActionScan:         15 * time.Second,
			gateway.ActionProvision:    30 * time.Second,
			gateway.ActionDesintegrate: 20 * time.Second,
			gateway.ActionRename:       20 * time.Second,
		},
		TimeoutPolicy: PolicyReject,
	}
}

// ConfigFromGateway converts the gateway configuration section.
func ConfigFromGateway(cfg config.GatewayConfig) Config {
	c := DefaultConfig()
	set := func(a gateway.Action, seconds int) {
		if seconds > 0 {
			c.Deadlines[a] = config.Seconds(seconds)
		}
	}
	set(gateway.ActionPing, cfg.Deadlines.Ping)
	set(gateway.ActionScan, cfg.Deadlines.Scan)
	set(gateway.ActionProvision, cfg.Deadlines.Provision)
	set(gateway.ActionDesintegrate, cfg.Deadlines.Desintegrate)
	set(gateway.ActionRename, cfg.Deadlines.Rename)
	if cfg.TimeoutPolicy != "" {
		c.TimeoutPolicy = TimeoutPolicy(cfg.TimeoutPolicy)
	}
	return c
}

// Deps holds the orchestrator's collaborators. Journal, Metrics, Mirror,
// IDs and Logger are optional.
type Deps struct {
	Registry  *correlation.Registry[gateway.Response]
	Transport gateway.Transport
	Sync      *Synchronizer
	IDs       *gateway.IDGenerator
	Journal   Journal
	Metrics   *metrics.Collector
	Mirror    Mirror
	Logger    Logger
}

// Orchestrator runs gateway operations. Each call validates its input and
// the silo's state, publishes one command, waits for the matching response
// or the deadline, and applies the result through the Synchronizer.
//
// It does not serialise calls; callers that drive one physical gateway
// should hold a lock around Provision, Desintegrate and Rename.
type Orchestrator struct {
	registry  *correlation.Registry[gateway.Response]
	transport gateway.Transport
	sync      *Synchronizer
	devices   DeviceStore
	ids       *gateway.IDGenerator
	journal   Journal
	metrics   *metrics.Collector
	mirror    Mirror
	logger    Logger
	cfg       Config
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("provisioning: nil registry")
	}
	if deps.Transport == nil {
		return nil, errors.New("provisioning: nil transport")
	}
	if deps.Sync == nil {
		return nil, errors.New("provisioning: nil synchronizer")
	}

	defaults := DefaultConfig()
	if cfg.Deadlines == nil {
		cfg.Deadlines = defaults.Deadlines
	}
	for a, d := range defaults.Deadlines {
		if cfg.Deadlines[a] <= 0 {
			cfg.Deadlines[a] = d
		}
	}
	switch cfg.TimeoutPolicy {
	case PolicyReject, PolicyLocalOnly:
	case "":
		cfg.TimeoutPolicy = PolicyReject
	default:
		return nil, fmt.Errorf("provisioning: unknown timeout policy %q", cfg.TimeoutPolicy)
	}

	o := &Orchestrator{
		registry:  deps.Registry,
		transport: deps.Transport,
		sync:      deps.Sync,
		devices:   deps.Sync.Devices(),
		ids:       deps.IDs,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		mirror:    deps.Mirror,
		logger:    deps.Logger,
		cfg:       cfg,
	}
	if o.ids == nil {
		o.ids = gateway.NewIDGenerator()
	}
	if o.logger == nil {
		o.logger = noopLogger{}
	}
	return o, nil
}

// Policy returns the configured timeout policy.
func (o *Orchestrator) Policy() TimeoutPolicy {
	return o.cfg.TimeoutPolicy
}

// TransportName returns the name of the transport commands go out on.
func (o *Orchestrator) TransportName() string {
	return o.transport.Name()
}

// PingResult reports gateway reachability.
type PingResult struct {
	Online    bool          `json:"online"`
	CommandID string        `json:"command_id"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
	Transport string        `json:"transport"`
}

// ScanResult lists BLE devices seen by the gateway. TimedOut is set when
// the list is empty because no response arrived.
type ScanResult struct {
	Devices   []gateway.ScanDevice `json:"devices"`
	CommandID string               `json:"command_id"`
	TimedOut  bool                 `json:"timed_out"`
}

// Result is the outcome of a state-changing operation.
type Result struct {
	Silo      *silo.Silo `json:"silo"`
	CommandID string     `json:"command_id"`

	// GatewayConfirmed is false when the change was applied locally after
	// the gateway timed out (local_only policy).
	GatewayConfirmed bool `json:"gateway_confirmed"`

	// RetaggedReadings is the number of readings moved by a rename.
	RetaggedReadings int64 `json:"retagged_readings,omitempty"`
}

// ProvisionRequest binds a BLE sensor to a silo.
type ProvisionRequest struct {
	SiloID string
	MAC    string

	// Identifier defaults to the silo name with whitespace runs replaced by
	// underscores.
	Identifier string
}

// Ping checks whether the gateway answers. No response is not an error.
func (o *Orchestrator) Ping(ctx context.Context) (*PingResult, error) {
	cmd := o.newCommand(gateway.ActionPing)
	started := time.Now()

	_, err := o.exchange(ctx, cmd, "", func(gateway.Response) bool { return true })
	switch {
	case err == nil:
		return &PingResult{Online: true, CommandID: cmd.ID, Latency: time.Since(started), Transport: o.transport.Name()}, nil
	case errors.Is(err, ErrTimeout):
		return &PingResult{Online: false, CommandID: cmd.ID, Transport: o.transport.Name()}, nil
	default:
		return nil, err
	}
}

// Scan asks the gateway for nearby BLE devices and returns the list exactly
// as the gateway sent it; MACs are normalized only when provisioned. No
// response yields an empty list, not an error.
func (o *Orchestrator) Scan(ctx context.Context) (*ScanResult, error) {
	cmd := o.newCommand(gateway.ActionScan)

	resp, err := o.exchange(ctx, cmd, "", func(r gateway.Response) bool { return !isErrorStatus(r) })
	switch {
	case err == nil:
		devices := resp.Devices
		if devices == nil {
			devices = []gateway.ScanDevice{}
		}
		return &ScanResult{Devices: devices, CommandID: cmd.ID}, nil
	case errors.Is(err, ErrTimeout):
		return &ScanResult{Devices: []gateway.ScanDevice{}, CommandID: cmd.ID, TimedOut: true}, nil
	default:
		return nil, err
	}
}

// Provision binds req.MAC to a silo that is not integrated. A timeout is an
// error and leaves the silo unchanged.
func (o *Orchestrator) Provision(ctx context.Context, req ProvisionRequest) (*Result, error) {
	if strings.TrimSpace(req.SiloID) == "" {
		return nil, fmt.Errorf("%w: silo id is required", ErrValidation)
	}
	mac, err := silo.NormalizeMAC(req.MAC)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	rec, err := o.sync.load(ctx, o.devices, req.SiloID)
	if err != nil {
		return nil, err
	}
	if rec.Integrated {
		return nil, fmt.Errorf("%w: silo %s is already integrated", ErrConflict, rec.ID)
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = silo.DeriveIdentifier(rec.Name)
	}
	if err := silo.ValidateIdentifier(identifier); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := o.ensureFree(ctx, rec.ID, mac, identifier); err != nil {
		return nil, err
	}

	cmd := o.newCommand(gateway.ActionProvision)
	cmd.MAC = mac
	cmd.SiloID = rec.ID
	cmd.SiloName = rec.Name
	cmd.Identifier = identifier

	if _, err := o.exchange(ctx, cmd, rec.ID, acceptStatus(provisionedStatuses)); err != nil {
		return nil, err
	}

	updated, err := o.sync.ApplyProvision(ctx, rec.ID, mac, identifier)
	if err != nil {
		return nil, err
	}
	o.logger.Info("silo provisioned", "silo_id", rec.ID, "mac", mac, "identifier", identifier, "command_id", cmd.ID)
	return &Result{Silo: updated, CommandID: cmd.ID, GatewayConfirmed: true}, nil
}

// Desintegrate unbinds the sensor of an integrated silo.
func (o *Orchestrator) Desintegrate(ctx context.Context, siloID string) (*Result, error) {
	if strings.TrimSpace(siloID) == "" {
		return nil, fmt.Errorf("%w: silo id is required", ErrValidation)
	}

	rec, err := o.sync.load(ctx, o.devices, siloID)
	if err != nil {
		return nil, err
	}
	if !rec.Integrated {
		return nil, fmt.Errorf("%w: silo %s is not integrated", ErrConflict, rec.ID)
	}

	cmd := o.newCommand(gateway.ActionDesintegrate)
	cmd.MAC = rec.MACAddress
	cmd.SiloID = rec.ID
	cmd.Identifier = rec.Identifier

	confirmed, err := o.exchangeWithPolicy(ctx, cmd, rec.ID, acceptStatus(desintegratedStatuses))
	if err != nil {
		return nil, err
	}

	updated, err := o.sync.ApplyDesintegrate(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("silo desintegrated", "silo_id", rec.ID, "command_id", cmd.ID, "gateway_confirmed", confirmed)
	return &Result{Silo: updated, CommandID: cmd.ID, GatewayConfirmed: confirmed}, nil
}

// Rename renames an integrated silo. The device identifier follows the new
// name and the silo's readings are re-tagged.
func (o *Orchestrator) Rename(ctx context.Context, siloID, newName string) (*Result, error) {
	if strings.TrimSpace(siloID) == "" {
		return nil, fmt.Errorf("%w: silo id is required", ErrValidation)
	}
	if err := silo.ValidateName(newName); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	newName = strings.TrimSpace(newName)
	newIdentifier := silo.DeriveIdentifier(newName)
	if err := silo.ValidateIdentifier(newIdentifier); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	rec, err := o.sync.load(ctx, o.devices, siloID)
	if err != nil {
		return nil, err
	}
	if !rec.Integrated {
		return nil, fmt.Errorf("%w: silo %s is not integrated", ErrConflict, rec.ID)
	}
	if newIdentifier != rec.Identifier {
		if err := o.ensureFree(ctx, rec.ID, newIdentifier); err != nil {
			return nil, err
		}
	}

	cmd := o.newCommand(gateway.ActionRename)
	cmd.MAC = rec.MACAddress
	cmd.SiloID = rec.ID
	cmd.SiloName = rec.Name
	cmd.NewName = newName
	cmd.Identifier = newIdentifier

	confirmed, err := o.exchangeWithPolicy(ctx, cmd, rec.ID, acceptStatus(renamedStatuses))
	if err != nil {
		return nil, err
	}

	updated, moved, err := o.sync.ApplyRename(ctx, rec.ID, newName, newIdentifier)
	if err != nil {
		return nil, err
	}
	o.logger.Info("silo renamed",
		"silo_id", rec.ID,
		"old_identifier", rec.Identifier,
		"new_identifier", newIdentifier,
		"retagged", moved,
		"gateway_confirmed", confirmed,
	)
	return &Result{Silo: updated, CommandID: cmd.ID, GatewayConfirmed: confirmed, RetaggedReadings: moved}, nil
}

// ensureFree returns ErrConflict if any value belongs to another silo.
func (o *Orchestrator) ensureFree(ctx context.Context, siloID string, values ...string) error {
	for _, v := range values {
		taken, err := o.devices.Exists(ctx, v, siloID)
		if err != nil {
			return fmt.Errorf("checking %q: %w", v, err)
		}
		if taken {
			return fmt.Errorf("%w: %q is already bound to another silo", ErrConflict, v)
		}
	}
	return nil
}

func (o *Orchestrator) newCommand(action gateway.Action) gateway.Command {
	return o.ids.NewCommand(action, o.cfg.Deadlines[action])
}

// exchangeWithPolicy runs exchange and applies the timeout policy. It
// reports whether the gateway confirmed the change.
func (o *Orchestrator) exchangeWithPolicy(ctx context.Context, cmd gateway.Command, siloID string, accept func(gateway.Response) bool) (bool, error) {
	_, err := o.exchange(ctx, cmd, siloID, accept)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTimeout) && o.cfg.TimeoutPolicy == PolicyLocalOnly {
		o.logger.Warn("gateway timed out, applying change locally only",
			"action", cmd.Action,
			"silo_id", siloID,
			"command_id", cmd.ID,
		)
		return false, nil
	}
	return false, err
}

// exchange registers cmd, publishes it and waits for the matching response
// or the deadline. accept decides whether a response is a success; any
// other response becomes a *RemoteError.
func (o *Orchestrator) exchange(ctx context.Context, cmd gateway.Command, siloID string, accept func(gateway.Response) bool) (gateway.Response, error) {
	started := time.Now()

	pending, err := o.registry.Register(cmd.ID, cmd.Deadline)
	if err != nil {
		o.record(ctx, cmd, siloID, audit.ResultTransportError, "", err.Error(), started)
		return gateway.Response{}, fmt.Errorf("%w: registering %s: %w", ErrTransport, cmd.ID, err)
	}
	o.metrics.IncCommandIssued(string(actionOf(cmd)))

	if err := o.transport.Publish(ctx, cmd); err != nil {
		o.registry.Cancel(cmd.ID)
		o.record(ctx, cmd, siloID, audit.ResultTransportError, "", err.Error(), started)
		o.logger.Error("publishing gateway command failed", "command_id", cmd.ID, "transport", o.transport.Name(), "error", err)
		return gateway.Response{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	o.logger.Debug("gateway command published", "command_id", cmd.ID, "deadline", cmd.Deadline)

	res, err := pending.Wait(ctx)
	if err != nil {
		o.record(context.WithoutCancel(ctx), cmd, siloID, audit.ResultCancelled, "", err.Error(), started)
		return gateway.Response{}, err
	}

	switch res.Resolution {
	case correlation.Matched:
		resp := res.Response
		if !accept(resp) {
			remote := newRemoteError(resp.Status, resp.Error)
			o.record(ctx, cmd, siloID, audit.ResultRemoteError, resp.Status, remote.Message, started)
			return resp, remote
		}
		o.record(ctx, cmd, siloID, audit.ResultMatched, resp.Status, "", started)
		return resp, nil
	case correlation.TimedOut:
		o.record(ctx, cmd, siloID, audit.ResultTimedOut, "", "", started)
		o.logger.Warn("gateway command timed out", "command_id", cmd.ID, "deadline", cmd.Deadline)
		return gateway.Response{}, fmt.Errorf("%w: %s after %s", ErrTimeout, cmd.ID, cmd.Deadline)
	default:
		o.record(ctx, cmd, siloID, audit.ResultCancelled, "", "", started)
		return gateway.Response{}, fmt.Errorf("%w: %s was cancelled", ErrTransport, cmd.ID)
	}
}

func (o *Orchestrator) record(ctx context.Context, cmd gateway.Command, siloID string, result audit.Result, status, detail string, started time.Time) {
	elapsed := time.Since(started)
	action := string(actionOf(cmd))

	o.metrics.ObserveCommandResult(action, string(result), elapsed)
	if o.mirror != nil {
		o.mirror.WriteCommand(action, string(result), elapsed, started)
	}
	if o.journal == nil {
		return
	}
	err := o.journal.Create(ctx, &audit.Entry{
		CommandID: cmd.ID,
		Action:    action,
		SiloID:    siloID,
		Result:    result,
		Status:    status,
		Detail:    detail,
		Duration:  elapsed,
	})
	if err != nil {
		o.logger.Warn("journaling gateway command failed", "command_id", cmd.ID, "error", err)
	}
}

func actionOf(cmd gateway.Command) gateway.Action {
	if a, ok := gateway.ParseWireAction(cmd.Action); ok {
		return a
	}
	return gateway.Action(cmd.Action)
}

func acceptStatus(codes []string) func(gateway.Response) bool {
	return func(r gateway.Response) bool { return r.StatusIs(codes...) }
}

// isErrorStatus reports whether a response signals failure: an error text,
// or a status of the "erro_*" family.
func isErrorStatus(r gateway.Response) bool {
	if r.Error != "" {
		return true
	}
	s := strings.ToLower(r.Status)
	return strings.HasPrefix(s, "erro") || s == "error" || s == "failed"
}
