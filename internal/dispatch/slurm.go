package dispatch

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
)

var submittedPattern = regexp.MustCompile(`^Submitted batch job (\d+)$`)

// ParseSubmitOutput extracts the job id from sbatch output.
func ParseSubmitOutput(stdout string) (string, error) {
	line := strings.TrimSpace(stdout)
	m := submittedPattern.FindStringSubmatch(line)
	if m == nil {
		return "", fmt.Errorf("unexpected submit output: %q", line)
	}
	return m[1], nil
}

// ParseQueue parses "<job_id> <state>" lines from the scheduler listing.
// Malformed lines are skipped.
func ParseQueue(stdout string) map[string]backend.JobStatus {
	out := make(map[string]backend.JobStatus)
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		out[fields[0]] = MapState(fields[1])
	}
	return out
}

// MapState maps a Slurm job state onto the registry status vocabulary.
func MapState(state string) backend.JobStatus {
	state = strings.TrimRight(strings.ToUpper(state), "+")
	switch state {
	case "PENDING", "PD", "CONFIGURING", "CF", "REQUEUED", "RESV_DEL_HOLD", "SUSPENDED", "S":
		return backend.StatusPending
	case "RUNNING", "R", "COMPLETING", "CG", "STAGE_OUT", "SO", "SIGNALING":
		return backend.StatusRunning
	case "COMPLETED", "CD":
		return backend.StatusCompleted
	case "CANCELLED", "CA":
		return backend.StatusCancelled
	case "FAILED", "F", "TIMEOUT", "TO", "NODE_FAIL", "NF", "OUT_OF_MEMORY", "OOM",
		"PREEMPTED", "PR", "BOOT_FAIL", "BF", "DEADLINE", "DL":
		return backend.StatusFailed
	default:
		return backend.StatusUnknown
	}
}
