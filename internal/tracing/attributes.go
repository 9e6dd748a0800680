package tracing

// Span attribute keys following OpenTelemetry semantic conventions
const (
	// Log file attributes
	AttrLogPath     = "rnr.logfile.path"
	AttrLogAccess   = "rnr.logfile.access"
	AttrRecordCount = "rnr.logfile.records"
	AttrRecordIndex = "rnr.logfile.index"
	AttrMessageType = "rnr.message.type"

	// Session attributes
	AttrSessionID   = "rnr.session.id"
	AttrMode        = "rnr.session.mode"
	AttrEnabled     = "rnr.session.enabled"
	AttrPrevMode    = "rnr.session.prev_mode"
	AttrDelivery    = "rnr.replay.delivery"
	AttrReplaySpeed = "rnr.replay.speed"

	// Operation attributes
	AttrOperation = "rnr.operation"
	AttrStatus    = "rnr.status"
	AttrErrorKind = "rnr.error.kind"

	// HTTP attributes (OpenTelemetry semantic conventions)
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	// gRPC attributes (OpenTelemetry semantic conventions)
	AttrRPCService = "rpc.service"
	AttrRPCMethod  = "rpc.method"
	AttrRPCStatus  = "rpc.status_code"
)
