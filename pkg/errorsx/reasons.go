package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonMicUnavailable ReasonCode = "mic_unavailable"
	ReasonCapture        ReasonCode = "capture"

	ReasonTranscribe ReasonCode = "transcribe"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonTTSConnect   ReasonCode = "tts_connect"
	ReasonTTSGenerate  ReasonCode = "tts_generate"
	ReasonTTSRateLimit ReasonCode = "tts_rate_limit"

	ReasonPlayback      ReasonCode = "playback"
	ReasonTransportSend ReasonCode = "transport_send"
)
