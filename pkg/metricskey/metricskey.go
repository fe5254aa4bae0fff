package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsLLMRequests is base for counter metric for total requests sent to LLM
	StatsLLMRequests = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_requests",
		Help:         "stats_llm_requests provides total requests sent to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMRequestsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_requests_failed",
		Help:         "stats_llm_requests_failed provides total failed requests to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMTotalTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_total_tokens",
		Help:         "stats_llm_total_tokens provides total tokens sent and received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsChatTurnsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_chat_turns_succeeded",
		Help:         "stats_chat_turns_succeeded provides total chat turns completed",
		RequiredTags: []string{"model"},
	}

	StatsChatTurnsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_chat_turns_failed",
		Help:         "stats_chat_turns_failed provides total chat turns failed",
		RequiredTags: []string{"model"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsServerConnectSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_server_connect_succeeded",
		Help:         "stats_server_connect_succeeded provides total successful tool server connections",
		RequiredTags: []string{"server"},
	}

	StatsServerConnectFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_server_connect_failed",
		Help:         "stats_server_connect_failed provides total failed tool server connections",
		RequiredTags: []string{"server"},
	}

	StatsServerDisconnected = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_server_disconnected",
		Help:         "stats_server_disconnected provides total tool server disconnects",
		RequiredTags: []string{"server"},
	}
)

// Perf
var (
	PerfChatTurn = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_chat_turn",
		Help:         "perf_chat_turn provides duration of chat turn",
		RequiredTags: []string{"model"},
	}

	PerfLLMCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_llm_call",
		Help:         "perf_llm_call provides duration of LLM call",
		RequiredTags: []string{"model"},
	}

	PerfServerConnect = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_server_connect",
		Help:         "perf_server_connect provides duration of tool server connect and handshake",
		RequiredTags: []string{"server"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfChatTurn,
	&PerfLLMCall,
	&PerfServerConnect,
	&PerfToolCall,
	&StatsChatTurnsFailed,
	&StatsChatTurnsSucceeded,
	&StatsLLMInputTokens,
	&StatsLLMOutputTokens,
	&StatsLLMRequests,
	&StatsLLMRequestsFailed,
	&StatsLLMTotalTokens,
	&StatsServerConnectFailed,
	&StatsServerConnectSucceeded,
	&StatsServerDisconnected,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
