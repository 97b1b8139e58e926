package protocol

import "encoding/json"

// MIMEBundle maps a MIME type to its representation.
type MIMEBundle map[string]any

const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusAbort = "abort"
)

// Execution states carried by Status.
const (
	StateBusy     = "busy"
	StateIdle     = "idle"
	StateStarting = "starting"
)

// is_complete_reply statuses.
const (
	CompleteYes     = "complete"
	CompleteNo      = "incomplete"
	CompleteInvalid = "invalid"
	CompleteUnknown = "unknown"
)

// ErrorReply is the shared content of every reply whose status is "error".
type ErrorReply struct {
	Status         string   `json:"status"`
	EName          string   `json:"ename"`
	EValue         string   `json:"evalue"`
	Traceback      []string `json:"traceback"`
	ExecutionCount int      `json:"execution_count,omitempty"`
}

func NewErrorReply(ename, evalue string, traceback []string) *ErrorReply {
	if traceback == nil {
		traceback = []string{}
	}
	return &ErrorReply{Status: StatusError, EName: ename, EValue: evalue, Traceback: traceback}
}

func (e *ErrorReply) Error() string {
	if e.EValue == "" {
		return e.EName
	}
	return e.EName + ": " + e.EValue
}

type ExecuteRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

type ExecuteReply struct {
	Status          string         `json:"status"`
	ExecutionCount  int            `json:"execution_count"`
	UserExpressions map[string]any `json:"user_expressions"`
	Payload         []any          `json:"payload"`
}

type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

type InspectReply struct {
	Status   string         `json:"status"`
	Found    bool           `json:"found"`
	Data     MIMEBundle     `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

type CompleteReply struct {
	Status      string         `json:"status"`
	Matches     []string       `json:"matches"`
	CursorStart int            `json:"cursor_start"`
	CursorEnd   int            `json:"cursor_end"`
	Metadata    map[string]any `json:"metadata"`
}

// History access types.
const (
	HistoryRange  = "range"
	HistoryTail   = "tail"
	HistorySearch = "search"
)

type HistoryRequest struct {
	Output         bool   `json:"output"`
	Raw            bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"`
	Session        int    `json:"session,omitempty"`
	Start          int    `json:"start,omitempty"`
	Stop           int    `json:"stop,omitempty"`
	N              int    `json:"n,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
	Unique         bool   `json:"unique,omitempty"`
}

// HistoryEntry encodes as the wire triple [session, line, input].
type HistoryEntry struct {
	Session int
	Line    int
	Input   string
}

func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Session, e.Line, e.Input})
}

func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	var raw [3]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw[0].(float64); ok {
		e.Session = int(v)
	}
	if v, ok := raw[1].(float64); ok {
		e.Line = int(v)
	}
	switch v := raw[2].(type) {
	case string:
		e.Input = v
	case []any:
		if len(v) > 0 {
			e.Input, _ = v[0].(string)
		}
	}
	return nil
}

type HistoryReply struct {
	Status  string         `json:"status"`
	History []HistoryEntry `json:"history"`
}

type IsCompleteRequest struct {
	Code string `json:"code"`
}

type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent,omitempty"`
}

type KernelInfoRequest struct{}

type LanguageInfo struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	MIMEType          string `json:"mimetype"`
	FileExtension     string `json:"file_extension"`
	PygmentsLexer     string `json:"pygments_lexer,omitempty"`
	CodemirrorMode    any    `json:"codemirror_mode,omitempty"`
	NBConvertExporter string `json:"nbconvert_exporter,omitempty"`
}

type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type KernelInfoReply struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
	HelpLinks             []HelpLink   `json:"help_links"`
}

type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

type InterruptRequest struct{}

type InterruptReply struct {
	Status string `json:"status"`
}

type CommInfoRequest struct {
	TargetName string `json:"target_name,omitempty"`
}

type CommInfo struct {
	TargetName string `json:"target_name"`
}

type CommInfoReply struct {
	Status string              `json:"status"`
	Comms  map[string]CommInfo `json:"comms"`
}

type Status struct {
	ExecutionState string `json:"execution_state"`
}

// Stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

type Stream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayData is shared by display_data and update_display_data.
type DisplayData struct {
	Data      MIMEBundle     `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Transient map[string]any `json:"transient,omitempty"`
}

type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

type ExecuteResult struct {
	ExecutionCount int            `json:"execution_count"`
	Data           MIMEBundle     `json:"data"`
	Metadata       map[string]any `json:"metadata"`
}

// ErrorContent is the broadcast "error" message.
type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type ClearOutput struct {
	Wait bool `json:"wait"`
}

type InputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

type InputReply struct {
	Value string `json:"value"`
}

type CommOpen struct {
	CommID       string         `json:"comm_id"`
	TargetName   string         `json:"target_name"`
	Data         map[string]any `json:"data"`
	TargetModule string         `json:"target_module,omitempty"`
}

type CommMsg struct {
	CommID string         `json:"comm_id"`
	Data   map[string]any `json:"data"`
}

type CommClose struct {
	CommID string         `json:"comm_id"`
	Data   map[string]any `json:"data"`
}
