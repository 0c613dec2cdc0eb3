package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/simulation"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

type Handler struct {
	logger   hclog.Logger
	eventBus *events.EventBus
	// dataDir holds every file a request reads or writes; empty forbids file paths in requests.
	dataDir string

	mu   sync.Mutex
	runs map[string]*flRun
}

func NewHandler(logger hclog.Logger, eventBus *events.EventBus, dataDir string) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		logger:   logger.Named("server"),
		eventBus: eventBus,
		dataDir:  dataDir,
		runs:     map[string]*flRun{},
	}
}

// NewRouter registers the control-plane routes.
func NewRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/fl/start", handler.StartFl).Methods(http.MethodPost)
	router.HandleFunc("/fl/status/{runId}", handler.GetFlStatus).Methods(http.MethodGet)
	router.HandleFunc("/fl/stop/{runId}", handler.StopFl).Methods(http.MethodPost)
	return router
}

func (handler *Handler) StartFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	request := newStartFlRequest()
	if err := fromJSON(request, r.Body); err != nil {
		handler.logger.Error("error decoding start request", "error", err)
		writeError(rw, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	if err := checkDatasetSize(request); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if err := resolvePaths(request, handler.dataDir); err != nil {
		handler.logger.Error("rejected start request paths", "error", err)
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	runId := uuid.New().String()
	runLogger := handler.logger.With("run", runId)

	sim, err := simulation.New(&request.FlConfiguration, simulation.Options{InitFrom: request.InitFrom}, handler.eventBus, runLogger)
	if err != nil {
		handler.logger.Error("error starting FL", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrConfiguration) || errors.Is(err, model.ErrShapeMismatch) {
			status = http.StatusBadRequest
		}
		writeError(rw, status, err.Error())
		return
	}

	run := newFlRun(runId, sim, handler.logger)
	if request.RoundSchedule != "" {
		if err := run.startScheduled(request.RoundSchedule); err != nil {
			run.cancel()
			writeError(rw, http.StatusBadRequest, fmt.Sprintf("invalid round schedule: %v", err))
			return
		}
	} else {
		run.startBackToBack()
	}

	handler.mu.Lock()
	handler.runs[runId] = run
	handler.mu.Unlock()

	handler.logger.Info(fmt.Sprintf("Starting FL with %d clients, %d rounds and cost type %q", request.ClientsNum,
		request.Rounds, request.Cost.CostType), "run", runId)

	rw.WriteHeader(http.StatusOK)
	toJSON(StartFlResponse{RunId: runId}, rw)
}

func (handler *Handler) GetFlStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	run := handler.getRun(getURLParameter(r, "runId"))
	if run == nil {
		writeError(rw, http.StatusNotFound, "no run with the given ID")
		return
	}

	rw.WriteHeader(http.StatusOK)
	toJSON(run.status(), rw)
}

func (handler *Handler) StopFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := getURLParameter(r, "runId")
	handler.logger.Info(fmt.Sprintf("Stopping FL with run ID: %s", runId))

	run := handler.getRun(runId)
	if run == nil {
		writeError(rw, http.StatusNotFound, "no run with the given ID")
		return
	}

	run.stop()
	rw.WriteHeader(http.StatusOK)
	toJSON(run.status(), rw)
}

// StopAll cancels every run and waits for them to end.
func (handler *Handler) StopAll() {
	handler.mu.Lock()
	runs := make([]*flRun, 0, len(handler.runs))
	for _, run := range handler.runs {
		runs = append(runs, run)
	}
	handler.mu.Unlock()

	for _, run := range runs {
		run.stop()
	}
	for _, run := range runs {
		<-run.done()
	}
}

func (handler *Handler) getRun(runId string) *flRun {
	handler.mu.Lock()
	defer handler.mu.Unlock()
	return handler.runs[runId]
}

func writeError(rw http.ResponseWriter, status int, message string) {
	rw.WriteHeader(status)
	toJSON(ErrorResponse{Message: message}, rw)
}

func getURLParameter(r *http.Request, parameter string) string {
	vars := mux.Vars(r)
	id := vars[parameter]
	return id
}
