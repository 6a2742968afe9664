package observability

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"

	AttrAgentName    = "agent.name"
	AttrAgentType    = "agent.type"
	AttrAgentLLM     = "agent.llm"
	AttrSessionID    = "session.id"
	AttrUserID       = "user.id"
	AttrInvocationID = "invocation.id"

	AttrLLMModel           = "llm.model"
	AttrLLMMaxTokens       = "llm.request.max_tokens"
	AttrLLMTemperature     = "llm.request.temperature"
	AttrLLMTopP            = "llm.request.top_p"
	AttrLLMFinishReason    = "llm.response.finish_reason"
	AttrLLMTokensInput     = "llm.tokens.input"
	AttrLLMTokensOutput    = "llm.tokens.output"
	AttrLLMRequestPayload  = "llm.request.body"
	AttrLLMResponsePayload = "llm.response.body"

	AttrToolName            = "tool.name"
	AttrToolDescription     = "tool.description"
	AttrToolCallID          = "tool.call.id"
	AttrToolArgsPayload     = "tool.args"
	AttrToolResponsePayload = "tool.response"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response.body.size"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"

	AttrEventID = "genbase.event_id"

	SpanAgentRun      = "agent.run"
	SpanLLMCall       = "agent.llm_call"
	SpanToolExecution = "agent.tool_execution"
	SpanMemorySearch  = "agent.memory_search"
	SpanHTTPRequest   = "http.request"

	DefaultServiceName  = "genbase"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
