package pipeline

// Stage is the run-level position in the pipeline. Fetching covers the
// per-source fetch and extract steps done inside the worker pool.
type Stage int32

const (
	StageIdle Stage = iota
	StageFetching
	StageExtracting
	StageClassifying
	StageDeduplicating
	StageWriting
	StageDone
)

var stageNames = [...]string{
	StageIdle:          "idle",
	StageFetching:      "fetching",
	StageExtracting:    "extracting",
	StageClassifying:   "classifying",
	StageDeduplicating: "deduplicating",
	StageWriting:       "writing",
	StageDone:          "done",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}
