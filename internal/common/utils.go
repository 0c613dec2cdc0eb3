package common

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

func GetClientId(index int) string {
	return fmt.Sprintf("%s-%d", CLIENT_ID_PREFIX, index)
}

// GetResultsFileName returns a timestamped CSV path under dir, creating dir if needed.
func GetResultsFileName(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("results_%s.csv", time.Now().Format("2006-01-02_15-04-05"))), nil
}

// AppendCsvRecord appends record to fileName. header is written first when the file is new or empty.
func AppendCsvRecord(fileName string, header []string, record []string) error {
	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 && len(header) > 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	if err := writer.Write(record); err != nil {
		return err
	}
	writer.Flush()

	return writer.Error()
}

func CalculateAverageFloat64(numbers []float64) float64 {
	if len(numbers) == 0 {
		return 0
	}

	var sum float64
	for _, number := range numbers {
		sum += number
	}

	return sum / float64(len(numbers))
}

// MovingAverage returns the means of every window of windowSize consecutive values.
func MovingAverage(values []float64, windowSize int) []float64 {
	if windowSize < 1 || len(values) < windowSize {
		return nil
	}
	averages := make([]float64, len(values)-windowSize+1)
	for i := range averages {
		averages[i] = CalculateAverageFloat64(values[i : i+windowSize])
	}
	return averages
}

// HasConverged reports whether the last patience changes of the moving average
// all stayed within threshold.
func HasConverged(values []float64, threshold float64, patience int, windowSize int) bool {
	averages := MovingAverage(values, windowSize)
	if patience < 1 || len(averages) < patience+1 {
		return false
	}

	for i := len(averages) - patience; i < len(averages); i++ {
		if math.Abs(averages[i]-averages[i-1]) > threshold {
			return false
		}
	}
	return true
}
