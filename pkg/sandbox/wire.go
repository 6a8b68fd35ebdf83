package sandbox

// Wire types shared by Client and the in-sandbox server.

// CommandRequest is the body of POST /commands.
type CommandRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Frame types streamed by POST /commands, one JSON object per line.
const (
	FrameStdout = "stdout"
	FrameStderr = "stderr"
	FrameExit   = "exit"
	FrameError  = "error"
)

// Frame is one NDJSON line of a command stream. The final frame is either
// "exit" with ExitCode set, or "error" when the command could not start.
type Frame struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Root        string            `json:"root"`
	Capacity    int               `json:"capacity"`
	CurrentLoad int               `json:"current_load"`
	UptimeSecs  int64             `json:"uptime_seconds"`
	Runtimes    map[string]string `json:"runtimes,omitempty"`
}
