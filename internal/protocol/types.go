package protocol

// Kind groups message types by the channel discipline they travel under.
type Kind int

const (
	KindUnknown Kind = iota
	KindRequest
	KindReply
	KindBroadcast
	KindStdin
	KindComm
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	case KindBroadcast:
		return "broadcast"
	case KindStdin:
		return "stdin"
	case KindComm:
		return "comm"
	default:
		return "unknown"
	}
}

// MessageType pairs a wire name with its content shape. Every nominal type
// carries an error variant with the same wire name whose content is
// *ErrorReply. MessageType values are immutable and compared by pointer.
type MessageType struct {
	name       string
	kind       Kind
	newContent func() any
	isError    bool
	variant    *MessageType
}

func define[T any](name string, kind Kind) *MessageType {
	t := &MessageType{
		name:       name,
		kind:       kind,
		newContent: func() any { return new(T) },
	}
	t.variant = &MessageType{
		name:       name,
		kind:       kind,
		newContent: func() any { return new(ErrorReply) },
		isError:    true,
		variant:    t,
	}
	return t
}

func (t *MessageType) Name() string { return t.name }
func (t *MessageType) Kind() Kind { return t.kind }
func (t *MessageType) IsError() bool {
	return t.isError
}

// IsReply reports whether decode should inspect the content status field.
func (t *MessageType) IsReply() bool {
	return t.kind == KindReply
}

// ErrorVariant returns the paired error type. On an error type it returns
// itself.
func (t *MessageType) ErrorVariant() *MessageType {
	if t.isError {
		return t
	}
	return t.variant
}

// Nominal returns the non-error type for t.
func (t *MessageType) Nominal() *MessageType {
	if t.isError {
		return t.variant
	}
	return t
}

// Matches reports whether other is t or t's error variant.
func (t *MessageType) Matches(other *MessageType) bool {
	if other == nil {
		return false
	}
	return t.Nominal() == other.Nominal()
}

// NewContent allocates an empty content value for decoding.
func (t *MessageType) NewContent() any {
	if t.newContent == nil {
		return new(map[string]any)
	}
	return t.newContent()
}

func (t *MessageType) String() string {
	if t.isError {
		return t.name + "(error)"
	}
	return t.name
}

// Unknown is returned by registry lookups for unregistered names.
var Unknown = &MessageType{name: "unknown", kind: KindUnknown}

// Shell and control requests with their replies.
var (
	MsgExecuteRequest    = define[ExecuteRequest]("execute_request", KindRequest)
	MsgExecuteReply      = define[ExecuteReply]("execute_reply", KindReply)
	MsgInspectRequest    = define[InspectRequest]("inspect_request", KindRequest)
	MsgInspectReply      = define[InspectReply]("inspect_reply", KindReply)
	MsgCompleteRequest   = define[CompleteRequest]("complete_request", KindRequest)
	MsgCompleteReply     = define[CompleteReply]("complete_reply", KindReply)
	MsgHistoryRequest    = define[HistoryRequest]("history_request", KindRequest)
	MsgHistoryReply      = define[HistoryReply]("history_reply", KindReply)
	MsgIsCompleteRequest = define[IsCompleteRequest]("is_complete_request", KindRequest)
	MsgIsCompleteReply   = define[IsCompleteReply]("is_complete_reply", KindReply)
	MsgKernelInfoRequest = define[KernelInfoRequest]("kernel_info_request", KindRequest)
	MsgKernelInfoReply   = define[KernelInfoReply]("kernel_info_reply", KindReply)
	MsgShutdownRequest   = define[ShutdownRequest]("shutdown_request", KindRequest)
	MsgShutdownReply     = define[ShutdownReply]("shutdown_reply", KindReply)
	MsgInterruptRequest  = define[InterruptRequest]("interrupt_request", KindRequest)
	MsgInterruptReply    = define[InterruptReply]("interrupt_reply", KindReply)
	MsgCommInfoRequest   = define[CommInfoRequest]("comm_info_request", KindRequest)
	MsgCommInfoReply     = define[CommInfoReply]("comm_info_reply", KindReply)
)

// IOPub broadcasts.
var (
	MsgStatus            = define[Status]("status", KindBroadcast)
	MsgStream            = define[Stream]("stream", KindBroadcast)
	MsgDisplayData       = define[DisplayData]("display_data", KindBroadcast)
	MsgUpdateDisplayData = define[DisplayData]("update_display_data", KindBroadcast)
	MsgExecuteInput      = define[ExecuteInput]("execute_input", KindBroadcast)
	MsgExecuteResult     = define[ExecuteResult]("execute_result", KindBroadcast)
	MsgError             = define[ErrorContent]("error", KindBroadcast)
	MsgClearOutput       = define[ClearOutput]("clear_output", KindBroadcast)
)

// Stdin.
var (
	MsgInputRequest = define[InputRequest]("input_request", KindStdin)
	MsgInputReply   = define[InputReply]("input_reply", KindStdin)
)

// Comm sub-protocol.
var (
	MsgCommOpen  = define[CommOpen]("comm_open", KindComm)
	MsgCommMsg   = define[CommMsg]("comm_msg", KindComm)
	MsgCommClose = define[CommClose]("comm_close", KindComm)
)

// Catalog lists every built-in nominal type.
func Catalog() []*MessageType {
	return []*MessageType{
		MsgExecuteRequest, MsgExecuteReply,
		MsgInspectRequest, MsgInspectReply,
		MsgCompleteRequest, MsgCompleteReply,
		MsgHistoryRequest, MsgHistoryReply,
		MsgIsCompleteRequest, MsgIsCompleteReply,
		MsgKernelInfoRequest, MsgKernelInfoReply,
		MsgShutdownRequest, MsgShutdownReply,
		MsgInterruptRequest, MsgInterruptReply,
		MsgCommInfoRequest, MsgCommInfoReply,
		MsgStatus, MsgStream, MsgDisplayData, MsgUpdateDisplayData,
		MsgExecuteInput, MsgExecuteResult, MsgError, MsgClearOutput,
		MsgInputRequest, MsgInputReply,
		MsgCommOpen, MsgCommMsg, MsgCommClose,
	}
}
