package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"querypulse/internal/baseline"
	"querypulse/internal/detect"
	"querypulse/internal/score"
)

// WeightsConfig mirrors score.ComplexityWeights.
type WeightsConfig struct {
	Select  float64 `yaml:"select"`
	Join    float64 `yaml:"join"`
	Where   float64 `yaml:"where"`
	GroupBy float64 `yaml:"group_by"`
	OrderBy float64 `yaml:"order_by"`
	Union   float64 `yaml:"union"`
	Window  float64 `yaml:"window"`
	Length  float64 `yaml:"length"`
}

// PenaltiesConfig mirrors score.OptimizationPenalties.
type PenaltiesConfig struct {
	SelectAll           float64 `yaml:"select_all"`
	UnboundedSort       float64 `yaml:"unbounded_sort"`
	CartesianJoin       float64 `yaml:"cartesian_join"`
	UnpartitionedFilter float64 `yaml:"unpartitioned_filter"`
	RedundantDistinct   float64 `yaml:"redundant_distinct"`
	UnionAll            float64 `yaml:"union_all"`
	DurationCeiling     float64 `yaml:"duration_ceiling"`
	CostCeiling         float64 `yaml:"cost_ceiling"`
	ScanCeiling         float64 `yaml:"scan_ceiling"`
}

// RetentionConfig holds how many days each table keeps. Zero keeps forever.
type RetentionConfig struct {
	RunsDays       int `yaml:"runs_days"`
	ExecutionsDays int `yaml:"executions_days"`
	AlertsDays     int `yaml:"alerts_days"`
	BaselinesDays  int `yaml:"baselines_days"`
	PatternsDays   int `yaml:"patterns_days"`
}

// EngineConfig holds the detection, scoring and orchestration settings.
type EngineConfig struct {
	SlowDurationFloorMs      int64         `yaml:"slow_duration_floor_ms"`
	ExpensiveCostFloor       float64       `yaml:"expensive_cost_floor"`
	LargeScanByteFloor       int64         `yaml:"large_scan_byte_floor"`
	UnderutilizedByteCeiling int64         `yaml:"underutilized_byte_ceiling"`
	BaselineMinSamples       int           `yaml:"baseline_min_samples"`
	BaselineWindowDays       int           `yaml:"baseline_window_days"`
	ThresholdMultiplier      float64       `yaml:"threshold_multiplier"`
	AlertSuppressionWindow   time.Duration `yaml:"alert_suppression_window"`

	ComplexityWeights       WeightsConfig   `yaml:"complexity_weights"`
	OptimizationPenalties   PenaltiesConfig `yaml:"optimization_penalties"`
	DurationCeilingMs       int64           `yaml:"duration_ceiling_ms"`
	CostCeiling             float64         `yaml:"cost_ceiling"`
	ScanCeilingBytes        int64           `yaml:"scan_ceiling_bytes"`
	HighComplexityThreshold float64         `yaml:"high_complexity_threshold"`
	HighPriorityMinCount    int64           `yaml:"high_priority_min_count"`
	PartitionColumns        []string        `yaml:"partition_columns"`

	WindowSize        time.Duration `yaml:"window_size"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	MaxSourceAttempts int           `yaml:"max_source_attempts"`
	SourceRetryDelay  time.Duration `yaml:"source_retry_delay"`
	MaxMergeAttempts  int           `yaml:"max_merge_attempts"`
	AnnotateWorkers   int           `yaml:"annotate_workers"`
	MaxCatchupWindows int           `yaml:"max_catchup_windows"`
	// Partitions are workspaces processed as separate runs. Empty processes
	// all workspaces as one partition.
	Partitions []string `yaml:"partitions"`

	Retention RetentionConfig `yaml:"retention"`
}

// DefaultEngine returns the stock engine settings.
func DefaultEngine() EngineConfig {
	sc := score.DefaultConfig()
	bc := baseline.DefaultConfig()
	dc := detect.DefaultConfig()
	return EngineConfig{
		SlowDurationFloorMs:      dc.SlowDurationFloorMs,
		ExpensiveCostFloor:       dc.ExpensiveCostFloor,
		LargeScanByteFloor:       dc.LargeScanByteFloor,
		UnderutilizedByteCeiling: dc.UnderutilizedByteCeiling,
		BaselineMinSamples:       bc.MinSamples,
		BaselineWindowDays:       bc.WindowDays,
		ThresholdMultiplier:      bc.ThresholdMultiplier,
		AlertSuppressionWindow:   time.Hour,
		ComplexityWeights:        WeightsConfig(sc.Weights),
		OptimizationPenalties:    PenaltiesConfig(sc.Penalties),
		DurationCeilingMs:        sc.DurationCeilingMs,
		CostCeiling:              sc.CostCeiling,
		ScanCeilingBytes:         sc.ScanCeilingBytes,
		HighComplexityThreshold:  sc.HighComplexityThreshold,
		HighPriorityMinCount:     sc.HighPriorityMinCount,
		PartitionColumns:         sc.PartitionColumns,
		WindowSize:               time.Hour,
		RunTimeout:               30 * time.Minute,
		MaxSourceAttempts:        3,
		SourceRetryDelay:         30 * time.Second,
		MaxMergeAttempts:         3,
		AnnotateWorkers:          8,
		MaxCatchupWindows:        48,
		Retention: RetentionConfig{
			RunsDays:       90,
			ExecutionsDays: 30,
			AlertsDays:     90,
			BaselinesDays:  180,
			PatternsDays:   180,
		},
	}
}

type engineFile struct {
	Engine EngineConfig `yaml:"engine"`
}

// LoadEngineFile overlays the engine: block of a YAML file onto base. Keys
// absent from the file keep their base values.
func LoadEngineFile(path string, base EngineConfig) (EngineConfig, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return base, fmt.Errorf("read config file %s: %w", path, err)
	}
	doc := engineFile{Engine: base}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return base, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := doc.Engine.Validate(); err != nil {
		return base, fmt.Errorf("config file %s: %w", path, err)
	}
	return doc.Engine, nil
}

// Validate reports every invalid setting.
func (e *EngineConfig) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}
	check(e.SlowDurationFloorMs > 0, "slow_duration_floor_ms must be positive")
	check(e.ExpensiveCostFloor > 0, "expensive_cost_floor must be positive")
	check(e.LargeScanByteFloor > 0, "large_scan_byte_floor must be positive")
	check(e.UnderutilizedByteCeiling >= 0, "underutilized_byte_ceiling must not be negative")
	check(e.BaselineMinSamples >= 1, "baseline_min_samples must be at least 1")
	check(e.BaselineWindowDays >= 1, "baseline_window_days must be at least 1")
	check(e.ThresholdMultiplier >= 1, "threshold_multiplier must be at least 1, got %g", e.ThresholdMultiplier)
	check(e.AlertSuppressionWindow > 0, "alert_suppression_window must be positive")
	check(e.DurationCeilingMs > 0, "duration_ceiling_ms must be positive")
	check(e.CostCeiling > 0, "cost_ceiling must be positive")
	check(e.ScanCeilingBytes > 0, "scan_ceiling_bytes must be positive")
	check(e.WindowSize >= time.Minute, "window_size must be at least 1m, got %s", e.WindowSize)
	check(e.RunTimeout > 0, "run_timeout must be positive")
	check(e.MaxSourceAttempts >= 1, "max_source_attempts must be at least 1")
	check(e.SourceRetryDelay > 0, "source_retry_delay must be positive")
	check(e.MaxMergeAttempts >= 1, "max_merge_attempts must be at least 1")
	check(e.AnnotateWorkers >= 1, "annotate_workers must be at least 1")
	check(e.MaxCatchupWindows >= 1, "max_catchup_windows must be at least 1")
	r := e.Retention
	check(r.RunsDays >= 0 && r.ExecutionsDays >= 0 && r.AlertsDays >= 0 && r.BaselinesDays >= 0 && r.PatternsDays >= 0,
		"retention days must not be negative")
	return errs
}

// ScoreConfig returns the scorer settings.
func (e *EngineConfig) ScoreConfig() score.Config {
	return score.Config{
		Weights:                 score.ComplexityWeights(e.ComplexityWeights),
		Penalties:               score.OptimizationPenalties(e.OptimizationPenalties),
		DurationCeilingMs:       e.DurationCeilingMs,
		CostCeiling:             e.CostCeiling,
		ScanCeilingBytes:        e.ScanCeilingBytes,
		HighComplexityThreshold: e.HighComplexityThreshold,
		SlowDurationFloorMs:     e.SlowDurationFloorMs,
		ExpensiveCostFloor:      e.ExpensiveCostFloor,
		HighPriorityMinCount:    e.HighPriorityMinCount,
		PartitionColumns:        e.PartitionColumns,
	}
}

// BaselineConfig returns the baseline calculator settings.
func (e *EngineConfig) BaselineConfig() baseline.Config {
	return baseline.Config{
		MinSamples:          e.BaselineMinSamples,
		WindowDays:          e.BaselineWindowDays,
		ThresholdMultiplier: e.ThresholdMultiplier,
	}
}

// DetectConfig returns the anomaly detector settings.
func (e *EngineConfig) DetectConfig() detect.Config {
	return detect.Config{
		SlowDurationFloorMs:      e.SlowDurationFloorMs,
		ExpensiveCostFloor:       e.ExpensiveCostFloor,
		LargeScanByteFloor:       e.LargeScanByteFloor,
		UnderutilizedByteCeiling: e.UnderutilizedByteCeiling,
	}
}
