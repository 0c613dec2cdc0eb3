package common

// Clients
const CLIENT_ID_PREFIX = "client"

// Results
const RESULTS_DIR = "experiments/results"
const RESULTS_FILE_AUTO = "auto"

// Run states reported by the control plane
const RUN_STATE_RUNNING = "running"
const RUN_STATE_FINISHED = "finished"
const RUN_STATE_FAILED = "failed"
const RUN_STATE_STOPPED = "stopped"

// Largest samples*features a control-plane request may generate
const MAX_DATASET_VALUES = 10_000_000
