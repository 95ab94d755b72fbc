package encoder

// PoolingStrategy selects how per-token hidden states are collapsed into one
// vector per document.
type PoolingStrategy string

const (
	// PoolingCLS uses the hidden state of the first ([CLS]) token.
	PoolingCLS PoolingStrategy = "cls"
	// PoolingMean averages the hidden states of attended tokens.
	PoolingMean PoolingStrategy = "mean"
	// PoolingMin takes the element-wise minimum over attended tokens.
	PoolingMin PoolingStrategy = "min"
	// PoolingMax takes the element-wise maximum over attended tokens.
	PoolingMax PoolingStrategy = "max"
)

// Valid reports whether the strategy is one of the supported values.
func (s PoolingStrategy) Valid() bool {
	switch s {
	case PoolingCLS, PoolingMean, PoolingMin, PoolingMax:
		return true
	}
	return false
}

// Config contains encoder configuration, fixed at construction.
type Config struct {
	ModelName      string          `yaml:"model_name" mapstructure:"model_name"`           // "distilbert-base-uncased"
	ModelPath      string          `yaml:"model_path" mapstructure:"model_path"`           // "./models/model.onnx"
	VocabPath      string          `yaml:"vocab_path" mapstructure:"vocab_path"`           // "./models/vocab.txt"
	Device         string          `yaml:"device" mapstructure:"device"`                   // "cpu" or "cuda"
	Pooling        PoolingStrategy `yaml:"pooling" mapstructure:"pooling"`                 // cls, mean, min, max
	LayerIndex     int             `yaml:"layer_index" mapstructure:"layer_index"`         // -1 = last layer
	MaxLength      int             `yaml:"max_length" mapstructure:"max_length"`           // 512
	BatchSize      int             `yaml:"batch_size" mapstructure:"batch_size"`           // 32
	TraversalPaths string          `yaml:"traversal_paths" mapstructure:"traversal_paths"` // "@r"
}

// DefaultConfig returns the default encoder configuration.
func DefaultConfig() Config {
	return Config{
		ModelName:      "distilbert-base-uncased",
		Device:         "cpu",
		Pooling:        PoolingMean,
		LayerIndex:     -1,
		MaxLength:      512,
		BatchSize:      32,
		TraversalPaths: "@r",
	}
}

// Params carries per-call overrides for Encode.
type Params struct {
	// TraversalPaths overrides the configured traversal expression when
	// non-empty, e.g. "@r", "@c" or "@cc,r".
	TraversalPaths string `json:"traversal_paths,omitempty"`
	// BatchSize overrides the configured batch size when positive.
	BatchSize int `json:"batch_size,omitempty"`
}

// EncoderError is a typed error for encoder failures.
type EncoderError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *EncoderError) Error() string {
	return e.Message
}

var (
	ErrInvalidConfig      = &EncoderError{Type: "invalid_config", Message: "invalid encoder configuration"}
	ErrBackendNotReady    = &EncoderError{Type: "backend_not_ready", Message: "transformer backend not ready"}
	ErrInvalidLayer       = &EncoderError{Type: "invalid_layer", Message: "hidden-state layer index out of range"}
	ErrTokenizationFailed = &EncoderError{Type: "tokenization_failed", Message: "tokenization failed"}
)
