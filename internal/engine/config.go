package engine

// Config holds the tuning knobs for the conversation engine.
type Config struct {
	// SystemPrompt seeds new conversations. Users may carry their own
	// prompt which takes precedence.
	SystemPrompt string `yaml:"system_prompt"`

	// TokenBudget caps the estimated tokens of the context window sent
	// to the backend.
	TokenBudget int `yaml:"token_budget"`

	// SummaryPairs is the exchange-pair threshold: compaction triggers
	// when the count of non-summary user/assistant messages exceeds
	// SummaryPairs * 2.
	SummaryPairs int `yaml:"summary_pairs"`

	// RetainRecent is the number of most-recent pair messages kept
	// verbatim after compaction.
	RetainRecent int `yaml:"retain_recent"`

	// SummaryCommand is the instruction sent to the model to produce a
	// conversation summary.
	SummaryCommand string `yaml:"summary_command"`

	// CharsPerToken tunes the token estimator.
	CharsPerToken float64 `yaml:"chars_per_token"`
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by
// sensible defaults.
func (cfg Config) withDefaults() Config {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a helpful assistant."
	}
	if cfg.TokenBudget == 0 {
		cfg.TokenBudget = 3000
	}
	if cfg.SummaryPairs == 0 {
		cfg.SummaryPairs = 10
	}
	if cfg.RetainRecent == 0 {
		cfg.RetainRecent = 2
	}
	if cfg.SummaryCommand == "" {
		cfg.SummaryCommand = "Summarize our conversation so far in no more than 200 words."
	}
	return cfg
}
