package config

const (
	defaultDataDir           = "~/.local/share/pulmo"
	defaultLogDir            = "~/.local/share/pulmo/logs"
	defaultAPIBind           = "127.0.0.1:8941"
	defaultMaxFileBytes      = 10 * 1024 * 1024
	defaultWorkers           = 4
	defaultQueueCapacity     = 32
	defaultOverflow          = "queue"
	defaultRequestTimeout    = 600
	defaultHeartbeatInterval = 15
	defaultProgressHeartbeat = 15
	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "openai/gpt-4o"
	defaultLLMTimeoutSeconds = 90
	defaultMinReportScore    = 7.0
	defaultMinConfidence     = 0.7
	defaultNotifyTimeout     = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

func defaultFileTypes() []string {
	return []string{"txt", "csv", "json", "xml", "pdf", "xlsx"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Intake: Intake{
			MaxFileBytes: defaultMaxFileBytes,
			FileTypes:    defaultFileTypes(),
		},
		Pipeline: Pipeline{
			Workers:           defaultWorkers,
			QueueCapacity:     defaultQueueCapacity,
			Overflow:          defaultOverflow,
			RequestTimeout:    defaultRequestTimeout,
			HeartbeatInterval: defaultHeartbeatInterval,
			ProgressHeartbeat: defaultProgressHeartbeat,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Quality: Quality{
			MinReportScore:              defaultMinReportScore,
			MinInterpretationConfidence: defaultMinConfidence,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
