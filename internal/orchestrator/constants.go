package orchestrator

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Timing defaults. Each can be overridden through the environment.
var (
	// DefaultOperationTimeout bounds a single adapter invocation
	DefaultOperationTimeout = getTimeoutOrDefault("GITDECK_OPERATION_TIMEOUT", 2*time.Minute, 5*time.Second)
	// DefaultShutdownTimeout bounds how long Close waits for in-flight operations
	DefaultShutdownTimeout = getTimeoutOrDefault("GITDECK_SHUTDOWN_TIMEOUT", 30*time.Second, 2*time.Second)
	// DefaultRetryCount is the number of retries for the post-operation status fetch
	DefaultRetryCount = uint64(getRetryCountOrDefault("GITDECK_RETRY_COUNT", 3, 1))
	// DefaultRetryDelay is the initial delay for exponential backoff
	DefaultRetryDelay = getTimeoutOrDefault("GITDECK_RETRY_DELAY", 200*time.Millisecond, 10*time.Millisecond)
)

// DefaultHistoryLimit is how many completed results stay awaitable.
const DefaultHistoryLimit = 1024

// isTestEnvironment detects if we're running in a test environment
func isTestEnvironment() bool {
	for _, arg := range os.Args {
		if strings.Contains(arg, ".test") || strings.Contains(arg, "go test") {
			return true
		}
	}
	return os.Getenv("GO_TEST") == "true" || os.Getenv("TEST_MODE") == "true"
}

// getTimeoutOrDefault returns production timeout or test timeout based on environment
func getTimeoutOrDefault(envVar string, prodDefault, testDefault time.Duration) time.Duration {
	if env := os.Getenv(envVar); env != "" {
		if duration, err := time.ParseDuration(env); err == nil {
			return duration
		}
	}
	if isTestEnvironment() {
		return testDefault
	}
	return prodDefault
}

// getRetryCountOrDefault returns production retry count or test retry count based on environment
func getRetryCountOrDefault(envVar string, prodDefault, testDefault int) int {
	if env := os.Getenv(envVar); env != "" {
		if count, err := strconv.Atoi(env); err == nil && count >= 0 {
			return count
		}
	}
	if isTestEnvironment() {
		return testDefault
	}
	return prodDefault
}
