package config

import "time"

// OpKind names a timed operation, per spec.md §4.1.
type OpKind string

const (
	OpTaskExecution      OpKind = "taskExecution"
	OpTaskDecomposition  OpKind = "taskDecomposition"
	OpTaskRefinement     OpKind = "taskRefinement"
	OpAgentCommunication OpKind = "agentCommunication"
	OpLLMRequest         OpKind = "llmRequest"
	OpFileOperations     OpKind = "fileOperations"
	OpDatabaseOperations OpKind = "databaseOperations"
	OpNetworkOperations  OpKind = "networkOperations"
)

// TimeoutsConfig holds the per-operation timeout table.
type TimeoutsConfig struct {
	TaskExecution      time.Duration
	TaskDecomposition  time.Duration
	TaskRefinement     time.Duration
	AgentCommunication time.Duration
	LLMRequest         time.Duration
	FileOperations     time.Duration
	DatabaseOperations time.Duration
	NetworkOperations  time.Duration
}

// Get returns the configured timeout for op, or zero if unknown.
func (t TimeoutsConfig) Get(op OpKind) time.Duration {
	switch op {
	case OpTaskExecution:
		return t.TaskExecution
	case OpTaskDecomposition:
		return t.TaskDecomposition
	case OpTaskRefinement:
		return t.TaskRefinement
	case OpAgentCommunication:
		return t.AgentCommunication
	case OpLLMRequest:
		return t.LLMRequest
	case OpFileOperations:
		return t.FileOperations
	case OpDatabaseOperations:
		return t.DatabaseOperations
	case OpNetworkOperations:
		return t.NetworkOperations
	default:
		return 0
	}
}

// BackoffStrategy selects how TimeoutManager spaces retries.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RetryPolicy controls TimeoutManager retry behavior.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Strategy     BackoffStrategy
}

// SchedulerPolicy carries the tunables the six scheduling algorithms read.
type SchedulerPolicy struct {
	Algorithm string // priority_first | earliest_deadline | critical_path | resource_balanced | shortest_job | hybrid_optimal

	// hybrid_optimal weights; see spec.md §9 Open Questions.
	WeightPriority     float64
	WeightCriticalPath float64
	WeightInverseSize  float64
	WeightWaitAge      float64
	// ScoreExpr, if non-empty, is a JS expression evaluated over
	// {priority, criticalPath, size, waitAge} instead of the linear
	// combination above.
	ScoreExpr string

	AgentLivenessTimeout time.Duration
	DispatchSlack        time.Duration
}

// Limits carries the RDD fan-out/depth caps and atomicity confidence floor.
type Limits struct {
	MaxDecompositionDepth int
	MaxTasksPerSession    int
	MinConfidence         float64
	JobRetention          time.Duration
	SlowDropThreshold     int
	HeartbeatInterval     time.Duration
}

// ModelMappings maps a logical oracle "kind" (atomicity, split, ...) to a
// provider-side model identifier. The core treats the oracle as opaque; this
// table only feeds whatever the concrete LanguageOracle implementation needs.
type ModelMappings map[string]string
