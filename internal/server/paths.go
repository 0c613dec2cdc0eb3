package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
)

// checkDatasetSize bounds the memory a single request can make the server allocate.
func checkDatasetSize(request *StartFlRequest) error {
	samples, features := request.Dataset.Samples, request.Dataset.Features
	if samples > 0 && features > 0 && samples > common.MAX_DATASET_VALUES/features {
		return fmt.Errorf("dataset of %d samples with %d features exceeds %d values: %w",
			samples, features, common.MAX_DATASET_VALUES, model.ErrConfiguration)
	}
	return nil
}

// resolvePaths rewrites the request's file paths to locations under dataDir.
// Without a data directory the server touches no files on behalf of a request.
func resolvePaths(request *StartFlRequest, dataDir string) error {
	output := &request.Output
	paths := []struct {
		name  string
		value *string
	}{
		{name: "output.resultsFile", value: &output.ResultsFile},
		{name: "output.checkpointFile", value: &output.CheckpointFile},
		{name: "initFrom", value: &request.InitFrom},
	}

	for _, path := range paths {
		if *path.value == "" {
			continue
		}
		if dataDir == "" {
			return fmt.Errorf("%s needs the server to run with a data directory: %w", path.name, model.ErrConfiguration)
		}
		if path.value == &output.ResultsFile && output.ResultsFile == common.RESULTS_FILE_AUTO {
			resolved, err := common.GetResultsFileName(filepath.Join(dataDir, common.RESULTS_DIR))
			if err != nil {
				return err
			}
			output.ResultsFile = resolved
			continue
		}
		resolved, err := underDir(dataDir, *path.value)
		if err != nil {
			return fmt.Errorf("%s: %w", path.name, err)
		}
		*path.value = resolved
	}
	return nil
}

func underDir(dir, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path %q must be relative to the data directory: %w", path, model.ErrConfiguration)
	}
	resolved := filepath.Join(dir, path)
	rel, err := filepath.Rel(dir, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q leaves the data directory: %w", path, model.ErrConfiguration)
	}
	return resolved, nil
}
