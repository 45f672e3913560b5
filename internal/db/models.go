package db

import (
	"time"

	"github.com/google/uuid"
)

// Server is the aggregate root for everything owned by a tracked host.
type Server struct {
	ID                    string
	GUID                  *uuid.UUID
	Hostname              string
	DisplayName           string
	IPAddress             string
	TailscaleHostname     string
	Status                string // online | offline | unknown
	LastSeen              *time.Time
	IsInactive            bool
	InactiveSince         *time.Time
	MachineType           string // server | workstation
	MachineCategory       string
	MachineCategorySource string // auto | user
	IdleWatts             *float64
	TDPWatts              *float64
	CPUModel              string
	CPUCores              *int
	Architecture          string
	AgentVersion          string
	AgentMode             string // readonly | readwrite
	IsPaused              bool
	PausedAt              *time.Time
	SSHUsername           string
	SudoMode              string // passwordless | password
	ConfigUser            string
	AssignedPacks         []string
	DriftDetectionEnabled bool
	CreatedAt             time.Time
	UpdatesAvailable      int
	SecurityUpdates       int
}

// AgentCredential is a per-server API token, stored hash-only.
type AgentCredential struct {
	ID            uuid.UUID
	ServerGUID    uuid.UUID
	APITokenHash  string
	APITokenPrefix string
	IsLegacy      bool
	LastUsedAt    *time.Time
	RevokedAt     *time.Time
	CreatedAt     time.Time
}

// RegistrationToken is a one-shot install credential.
type RegistrationToken struct {
	ID                 uuid.UUID
	TokenHash          string
	TokenPrefix        string
	Mode               string
	DisplayName        string
	MonitoredServices  []string
	ExpiresAt          time.Time
	ClaimedAt          *time.Time
	ClaimedByServerID  *string
	CreatedAt          time.Time
}

// MetricSample is the shape shared by the raw, hourly, and daily metrics
// tables (the latter two add min/max alongside avg).
type MetricSample struct {
	ServerID         string
	Timestamp        time.Time
	CPUPercent       *float64
	MemoryPercent    *float64
	MemoryTotalMB    *float64
	MemoryUsedMB     *float64
	DiskPercent      *float64
	DiskTotalGB      *float64
	DiskUsedGB       *float64
	NetworkRxBytes   *int64
	NetworkTxBytes   *int64
	Load1            *float64
	Load5            *float64
	Load15           *float64
	UptimeSeconds    *int64
}

// MetricAggregate is one bucket of a rolled-up hourly or daily table.
type MetricAggregate struct {
	ServerID      string
	BucketStart   time.Time
	CPUAvg, CPUMin, CPUMax             float64
	MemoryAvg, MemoryMin, MemoryMax    float64
	DiskAvg, DiskMin, DiskMax          float64
}

// PendingPackage is one outstanding OS package update reported by an agent.
type PendingPackage struct {
	ServerID       string
	Name           string
	CurrentVersion string
	NewVersion     string
	Repository     string
	IsSecurity     bool
}

// Alert is an open/acknowledged/resolved issue raised against a server.
type Alert struct {
	ID             uuid.UUID
	ServerID       string
	AlertType      string // cpu | memory | disk | offline | service
	Metric         string // metric-specific dedup key, e.g. service name
	Severity       string // critical | high | medium | low
	Status         string // open | acknowledged | resolved
	Title          string
	Message        string
	ThresholdValue *float64
	ActualValue    *float64
	AutoResolved   bool
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

// AlertState holds the evaluator's per-(server,metric) counters.
type AlertState struct {
	ServerID          string
	Metric            string
	ConsecutiveBreach int
	BreachLevel       string // high | critical | "" (clear)
	LastAlertID       *uuid.UUID
	LastNotifiedAt    *time.Time
	ServiceDownSince  *time.Time
}

// ExpectedService is a registered service the hub expects to be running.
type ExpectedService struct {
	ID          uuid.UUID
	ServerID    string
	ServiceName string
	DisplayName string
	IsCritical  bool
	Enabled     bool
}

// ServiceStatus is one observed sample of a service's health.
type ServiceStatus struct {
	ServerID     string
	ServiceName  string
	Timestamp    time.Time
	Status       string // running | stopped | failed | unknown
	PID          *int
	MemoryMB     *float64
	CPUPercent   *float64
	StatusReason string
}

// RemediationAction is one command's full lifecycle record.
type RemediationAction struct {
	ID          uuid.UUID
	ServerID    string
	ActionType  string
	Command     string
	ServiceName string
	Status      string // pending | approved | executing | completed | failed | cancelled
	Parameters  map[string]string
	ExitCode    *int
	Stdout      string
	Stderr      string
	CreatedAt   time.Time
	ApprovedAt  *time.Time
	ApprovedBy  string
	ExecutedAt  *time.Time
	CompletedAt *time.Time
}

// ConfigCheck is one compliance-check run result.
type ConfigCheck struct {
	ID              uuid.UUID
	ServerID        string
	PackName        string
	CheckedAt       time.Time
	IsCompliant     bool
	Mismatches      []byte // json
	CheckDurationMS int64
}

// ConfigApply is an apply/remove operation's progress and outcome.
type ConfigApply struct {
	ID             uuid.UUID
	ServerID       string
	PackName       string
	Operation      string // apply | remove
	Status         string // pending | running | completed | failed
	Progress       int
	CurrentItem    string
	ItemsTotal     int
	ItemsCompleted int
	ItemsFailed    int
	Results        []byte // json
	Error          string
	TriggeredBy    string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// ConfigValue is one row of the flat Config key/value store.
type ConfigValue struct {
	Key       string
	Value     []byte // json
	UpdatedAt time.Time
}
