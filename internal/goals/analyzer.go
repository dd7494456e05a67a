package goals

import "strings"

// KeywordAnalyzer is the default StepAnalyzer, grounded line-for-line on
// _analyze_goal_requirements in
// original_source/model_ops_coordinator/core/goal_manager.py: it scans the
// goal description for keywords and emits one step per match, falling back
// to a single generic-wait step when nothing matches.
type KeywordAnalyzer struct{}

func (KeywordAnalyzer) Analyze(g Goal) []Step {
	desc := strings.ToLower(g.Description)
	var steps []Step

	if strings.Contains(desc, "train") || strings.Contains(desc, "fine-tune") {
		steps = append(steps, Step{
			Type:       StepSubmitLearningJob,
			JobType:    metaOr(g.Metadata, "job_type", "fine_tune"),
			ModelName:  metaOr(g.Metadata, "model_name", "default-model"),
			DatasetRef: metaOr(g.Metadata, "dataset_ref", "/datasets/default.json"),
			Params:     g.Metadata,
		})
	}
	if strings.Contains(desc, "evaluate") || strings.Contains(desc, "test") {
		steps = append(steps, Step{Type: StepEvaluateModel, ModelName: metaOr(g.Metadata, "model_name", ""), Duration: defaultEvaluateDuration})
	}
	if strings.Contains(desc, "process") || strings.Contains(desc, "prepare") {
		steps = append(steps, Step{Type: StepProcessData, DatasetRef: metaOr(g.Metadata, "dataset_ref", ""), Duration: defaultProcessDuration})
	}
	if len(steps) == 0 {
		steps = append(steps, Step{Type: StepGenericWait, Duration: defaultWaitDuration})
	}
	return steps
}

func metaOr(m map[string]string, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return fallback
}
