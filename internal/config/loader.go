package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// rawFile is the YAML-decodable shape of an optional config file. Fields
// mirror TimeoutsConfig/RetryPolicy/SchedulerPolicy/Limits but in the
// primitive types YAML naturally decodes to.
type rawFile struct {
	Timeouts struct {
		TaskExecutionSeconds      int `yaml:"task_execution_seconds"`
		TaskDecompositionSeconds  int `yaml:"task_decomposition_seconds"`
		TaskRefinementSeconds     int `yaml:"task_refinement_seconds"`
		AgentCommunicationSeconds int `yaml:"agent_communication_seconds"`
		LLMRequestSeconds         int `yaml:"llm_request_seconds"`
		FileOperationsSeconds     int `yaml:"file_operations_seconds"`
		DatabaseOperationsSeconds int `yaml:"database_operations_seconds"`
		NetworkOperationsSeconds  int `yaml:"network_operations_seconds"`
	} `yaml:"timeouts"`
	Retry struct {
		MaxRetries      int     `yaml:"max_retries"`
		InitialDelayMS  int     `yaml:"initial_delay_ms"`
		MaxDelayMS      int     `yaml:"max_delay_ms"`
		Multiplier      float64 `yaml:"backoff_multiplier"`
		Strategy        string  `yaml:"strategy"`
	} `yaml:"retry"`
	Scheduler struct {
		Algorithm            string  `yaml:"algorithm"`
		WeightPriority       float64 `yaml:"weight_priority"`
		WeightCriticalPath   float64 `yaml:"weight_critical_path"`
		WeightInverseSize    float64 `yaml:"weight_inverse_size"`
		WeightWaitAge        float64 `yaml:"weight_wait_age"`
		ScoreExpr            string  `yaml:"score_expr"`
		AgentLivenessSeconds int     `yaml:"agent_liveness_seconds"`
		DispatchSlackSeconds int     `yaml:"dispatch_slack_seconds"`
	} `yaml:"scheduler"`
	Limits struct {
		MaxDecompositionDepth int     `yaml:"max_decomposition_depth"`
		MaxTasksPerSession    int     `yaml:"max_tasks_per_session"`
		MinConfidence         float64 `yaml:"min_confidence"`
		JobRetentionHours     int     `yaml:"job_retention_hours"`
		SlowDropThreshold     int     `yaml:"slow_drop_threshold"`
		HeartbeatSeconds      int     `yaml:"heartbeat_seconds"`
	} `yaml:"limits"`
	MaxConcurrentTasks int               `yaml:"max_concurrent_tasks"`
	PrimaryNLPMethod   string            `yaml:"primary_nlp_method"`
	Models             map[string]string `yaml:"models"`
}

// envOverrides is the envdecode-tagged struct carrying the environment
// variables enumerated in spec.md §6, following the teacher's pkg/config.go
// struct-tag decoding idiom.
type envOverrides struct {
	MaxConcurrentTasks       int     `env:"VIBE_MAX_CONCURRENT_TASKS"`
	TaskExecutionTimeout     int     `env:"VIBE_TASK_EXECUTION_TIMEOUT"`
	TaskDecompositionTimeout int     `env:"VIBE_TASK_DECOMPOSITION_TIMEOUT"`
	LLMRequestTimeout        int     `env:"VIBE_LLM_REQUEST_TIMEOUT"`
	MaxRetries               int     `env:"VIBE_MAX_RETRIES"`
	BackoffMultiplier        float64 `env:"VIBE_BACKOFF_MULTIPLIER"`
	InitialDelayMS           int     `env:"VIBE_INITIAL_DELAY_MS"`
	MaxDelayMS               int     `env:"VIBE_MAX_DELAY_MS"`
	MinConfidence            float64 `env:"VIBE_MIN_CONFIDENCE"`
	PrimaryNLPMethod         string  `env:"VIBE_PRIMARY_NLP_METHOD"`
}

// Snapshot is the fully resolved, validated configuration ConfigRegistry
// hands to readers. It is immutable; reload() swaps the pointer atomically.
type Snapshot struct {
	Timeouts           TimeoutsConfig
	Retry              RetryPolicy
	Scheduler          SchedulerPolicy
	Limits             Limits
	MaxConcurrentTasks int
	PrimaryNLPMethod   string
	Models             ModelMappings
}

// defaults returns the compiled-in baseline, resolved before file/env layers.
func defaults() Snapshot {
	return Snapshot{
		Timeouts: TimeoutsConfig{
			TaskExecution:      5 * time.Minute,
			TaskDecomposition:  10 * time.Minute,
			TaskRefinement:     2 * time.Minute,
			AgentCommunication: 30 * time.Second,
			LLMRequest:         60 * time.Second,
			FileOperations:     10 * time.Second,
			DatabaseOperations: 10 * time.Second,
			NetworkOperations:  10 * time.Second,
		},
		Retry: RetryPolicy{
			MaxRetries:   3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Strategy:     BackoffExponential,
		},
		Scheduler: SchedulerPolicy{
			Algorithm:            "priority_first",
			WeightPriority:       0.4,
			WeightCriticalPath:   0.3,
			WeightInverseSize:    0.2,
			WeightWaitAge:        0.1,
			AgentLivenessTimeout: 90 * time.Second,
			DispatchSlack:        30 * time.Second,
		},
		Limits: Limits{
			MaxDecompositionDepth: 3,
			MaxTasksPerSession:    100,
			MinConfidence:         0.3,
			JobRetention:          24 * time.Hour,
			SlowDropThreshold:     5,
			HeartbeatInterval:     30 * time.Second,
		},
		MaxConcurrentTasks: 10,
		PrimaryNLPMethod:   "oracle",
		Models:             ModelMappings{},
	}
}

// Load resolves a Snapshot from (in increasing priority) compiled defaults,
// an optional YAML file, and environment variables, then validates it.
// configPath may be empty, in which case only defaults+env apply.
func Load(configPath string) (Snapshot, error) {
	_ = godotenv.Load()

	snap := defaults()

	if strings.TrimSpace(configPath) != "" {
		if err := applyFile(configPath, &snap); err != nil {
			return Snapshot{}, err
		}
	}

	var overrides envOverrides
	if err := envdecode.Decode(&overrides); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return Snapshot{}, fmt.Errorf("decode env: %w", err)
		}
	}
	applyEnv(&snap, overrides)

	if err := validate(snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func applyFile(path string, snap *Snapshot) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if raw.Timeouts.TaskExecutionSeconds > 0 {
		snap.Timeouts.TaskExecution = time.Duration(raw.Timeouts.TaskExecutionSeconds) * time.Second
	}
	if raw.Timeouts.TaskDecompositionSeconds > 0 {
		snap.Timeouts.TaskDecomposition = time.Duration(raw.Timeouts.TaskDecompositionSeconds) * time.Second
	}
	if raw.Timeouts.TaskRefinementSeconds > 0 {
		snap.Timeouts.TaskRefinement = time.Duration(raw.Timeouts.TaskRefinementSeconds) * time.Second
	}
	if raw.Timeouts.AgentCommunicationSeconds > 0 {
		snap.Timeouts.AgentCommunication = time.Duration(raw.Timeouts.AgentCommunicationSeconds) * time.Second
	}
	if raw.Timeouts.LLMRequestSeconds > 0 {
		snap.Timeouts.LLMRequest = time.Duration(raw.Timeouts.LLMRequestSeconds) * time.Second
	}
	if raw.Timeouts.FileOperationsSeconds > 0 {
		snap.Timeouts.FileOperations = time.Duration(raw.Timeouts.FileOperationsSeconds) * time.Second
	}
	if raw.Timeouts.DatabaseOperationsSeconds > 0 {
		snap.Timeouts.DatabaseOperations = time.Duration(raw.Timeouts.DatabaseOperationsSeconds) * time.Second
	}
	if raw.Timeouts.NetworkOperationsSeconds > 0 {
		snap.Timeouts.NetworkOperations = time.Duration(raw.Timeouts.NetworkOperationsSeconds) * time.Second
	}

	if raw.Retry.MaxRetries > 0 {
		snap.Retry.MaxRetries = raw.Retry.MaxRetries
	}
	if raw.Retry.InitialDelayMS > 0 {
		snap.Retry.InitialDelay = time.Duration(raw.Retry.InitialDelayMS) * time.Millisecond
	}
	if raw.Retry.MaxDelayMS > 0 {
		snap.Retry.MaxDelay = time.Duration(raw.Retry.MaxDelayMS) * time.Millisecond
	}
	if raw.Retry.Multiplier > 0 {
		snap.Retry.Multiplier = raw.Retry.Multiplier
	}
	if raw.Retry.Strategy != "" {
		snap.Retry.Strategy = BackoffStrategy(raw.Retry.Strategy)
	}

	if raw.Scheduler.Algorithm != "" {
		snap.Scheduler.Algorithm = raw.Scheduler.Algorithm
	}
	if raw.Scheduler.WeightPriority > 0 {
		snap.Scheduler.WeightPriority = raw.Scheduler.WeightPriority
	}
	if raw.Scheduler.WeightCriticalPath > 0 {
		snap.Scheduler.WeightCriticalPath = raw.Scheduler.WeightCriticalPath
	}
	if raw.Scheduler.WeightInverseSize > 0 {
		snap.Scheduler.WeightInverseSize = raw.Scheduler.WeightInverseSize
	}
	if raw.Scheduler.WeightWaitAge > 0 {
		snap.Scheduler.WeightWaitAge = raw.Scheduler.WeightWaitAge
	}
	if raw.Scheduler.ScoreExpr != "" {
		snap.Scheduler.ScoreExpr = raw.Scheduler.ScoreExpr
	}
	if raw.Scheduler.AgentLivenessSeconds > 0 {
		snap.Scheduler.AgentLivenessTimeout = time.Duration(raw.Scheduler.AgentLivenessSeconds) * time.Second
	}
	if raw.Scheduler.DispatchSlackSeconds > 0 {
		snap.Scheduler.DispatchSlack = time.Duration(raw.Scheduler.DispatchSlackSeconds) * time.Second
	}

	if raw.Limits.MaxDecompositionDepth > 0 {
		snap.Limits.MaxDecompositionDepth = raw.Limits.MaxDecompositionDepth
	}
	if raw.Limits.MaxTasksPerSession > 0 {
		snap.Limits.MaxTasksPerSession = raw.Limits.MaxTasksPerSession
	}
	if raw.Limits.MinConfidence > 0 {
		snap.Limits.MinConfidence = raw.Limits.MinConfidence
	}
	if raw.Limits.JobRetentionHours > 0 {
		snap.Limits.JobRetention = time.Duration(raw.Limits.JobRetentionHours) * time.Hour
	}
	if raw.Limits.SlowDropThreshold > 0 {
		snap.Limits.SlowDropThreshold = raw.Limits.SlowDropThreshold
	}
	if raw.Limits.HeartbeatSeconds > 0 {
		snap.Limits.HeartbeatInterval = time.Duration(raw.Limits.HeartbeatSeconds) * time.Second
	}

	if raw.MaxConcurrentTasks > 0 {
		snap.MaxConcurrentTasks = raw.MaxConcurrentTasks
	}
	if raw.PrimaryNLPMethod != "" {
		snap.PrimaryNLPMethod = raw.PrimaryNLPMethod
	}
	if len(raw.Models) > 0 {
		if snap.Models == nil {
			snap.Models = ModelMappings{}
		}
		for k, v := range raw.Models {
			snap.Models[k] = v
		}
	}
	return nil
}

func applyEnv(snap *Snapshot, o envOverrides) {
	if o.MaxConcurrentTasks > 0 {
		snap.MaxConcurrentTasks = o.MaxConcurrentTasks
	}
	if o.TaskExecutionTimeout > 0 {
		snap.Timeouts.TaskExecution = time.Duration(o.TaskExecutionTimeout) * time.Second
	}
	if o.TaskDecompositionTimeout > 0 {
		snap.Timeouts.TaskDecomposition = time.Duration(o.TaskDecompositionTimeout) * time.Second
	}
	if o.LLMRequestTimeout > 0 {
		snap.Timeouts.LLMRequest = time.Duration(o.LLMRequestTimeout) * time.Second
	}
	if o.MaxRetries > 0 {
		snap.Retry.MaxRetries = o.MaxRetries
	}
	if o.BackoffMultiplier > 0 {
		snap.Retry.Multiplier = o.BackoffMultiplier
	}
	if o.InitialDelayMS > 0 {
		snap.Retry.InitialDelay = time.Duration(o.InitialDelayMS) * time.Millisecond
	}
	if o.MaxDelayMS > 0 {
		snap.Retry.MaxDelay = time.Duration(o.MaxDelayMS) * time.Millisecond
	}
	if o.MinConfidence > 0 {
		snap.Limits.MinConfidence = o.MinConfidence
	}
	if o.PrimaryNLPMethod != "" {
		snap.PrimaryNLPMethod = o.PrimaryNLPMethod
	}
}
