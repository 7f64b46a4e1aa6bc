package config

const (
	defaultConfigPath              = "~/.config/upright/config.toml"
	defaultStateDir                = "~/.local/share/upright"
	defaultLogDir                  = "~/.local/share/upright/logs"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
	defaultWorkers                 = 2
	defaultQueueWarnSize           = 4096
	defaultMaxStabilityRetries     = 3
	defaultMaxDecisionRetries      = 1
	defaultRetryBackoffMillis      = 2000
	defaultRetryBackoffMaxMillis   = 60000
	defaultStabilityIntervalMillis = 500
	defaultStabilitySamples        = 3
	defaultStabilityMaxWaitSeconds = 60
	defaultShutdownGraceSeconds    = 30
	defaultJPEGQuality             = 95
	defaultDeciderKind             = DeciderCommand
	defaultDeciderTimeoutSeconds   = 120
	defaultDeciderTransportTries   = 3
	defaultDeciderCommand          = "ollama"
	defaultDeciderModel            = "rotator"
	defaultDeciderBaseURL          = "http://127.0.0.1:11434"
	defaultHEIFCommand             = "magick"
	defaultHEIFTimeoutSeconds      = 120
	defaultDeciderPrompt           = "Determine how many degrees it must be rotated CLOCKWISE so that people, objects, or scenery appear upright. If the image is already upright, return 0."
)

// Source dispositions applied after a successful write.
const (
	DispositionDelete  = "delete"
	DispositionArchive = "archive"
)

// Decider kinds.
const (
	DeciderCommand = "command"
	DeciderOllama  = "ollama"
	DeciderHTTP    = "http"
	DeciderFixed   = "fixed"
)

// DefaultDeciderArgs mirrors `ollama run <model> --format <schema> <prompt> <path>`.
// Placeholders are substituted per call.
func DefaultDeciderArgs() []string {
	return []string{"run", "{model}", "--format", "{schema}", "{prompt}", "{path}"}
}

// DefaultHEIFArgs mirrors `magick <input> -auto-orient -rotate <degrees> <output>`.
func DefaultHEIFArgs() []string {
	return []string{"{input}", "-auto-orient", "-rotate", "{degrees}", "{output}"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Pipeline: Pipeline{
			Workers:                 defaultWorkers,
			QueueWarnSize:           defaultQueueWarnSize,
			MaxStabilityRetries:     defaultMaxStabilityRetries,
			MaxDecisionRetries:      defaultMaxDecisionRetries,
			RetryBackoffMillis:      defaultRetryBackoffMillis,
			RetryBackoffMaxMillis:   defaultRetryBackoffMaxMillis,
			StabilityIntervalMillis: defaultStabilityIntervalMillis,
			StabilitySamples:        defaultStabilitySamples,
			StabilityMaxWaitSeconds: defaultStabilityMaxWaitSeconds,
			ShutdownGraceSeconds:    defaultShutdownGraceSeconds,
			SourceDisposition:       DispositionDelete,
			OverwriteExisting:       true,
			JPEGQuality:             defaultJPEGQuality,
			NormalizeEXIF:           true,
		},
		Decider: Decider{
			Kind:              defaultDeciderKind,
			TimeoutSeconds:    defaultDeciderTimeoutSeconds,
			TransportAttempts: defaultDeciderTransportTries,
			Command:           defaultDeciderCommand,
			Args:              DefaultDeciderArgs(),
			BaseURL:           defaultDeciderBaseURL,
			Model:             defaultDeciderModel,
			Prompt:            defaultDeciderPrompt,
		},
		HEIF: HEIF{
			Command:        defaultHEIFCommand,
			Args:           DefaultHEIFArgs(),
			TimeoutSeconds: defaultHEIFTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
