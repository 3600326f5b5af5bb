package orchestrator

// State is a step of the sync state machine.
type State string

const (
	StateIdle               State = "IDLE"
	StateFetchingFirstPage  State = "FETCHING_FIRST_PAGE"
	StateFanningOut         State = "FANNING_OUT"
	StateAwaitingPageJobs   State = "AWAITING_PAGE_JOBS"
	StateAdvancingWatermark State = "ADVANCING_WATERMARK"
	StateFailed             State = "FAILED"
)
