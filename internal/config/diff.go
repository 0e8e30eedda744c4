package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// and the vocabulary can be applied to a running session; any other change
// sets RequiresRestart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VocabularyChanged bool
	NewVocabulary     []string

	// RequiresRestart is set when audio, VAD, consensus, context, pipeline,
	// recognizer, or listen address settings changed. Those are pinned for
	// the lifetime of a session.
	RequiresRestart bool
}

// HotApplicable reports whether the diff contains any change that can be
// applied without a restart.
func (d ConfigDiff) HotApplicable() bool {
	return d.LogLevelChanged || d.VocabularyChanged
}

// Diff compares old and new configs and returns what changed. Vocabulary
// comparison is order-sensitive; a reorder counts as a change, which is
// harmless since reinstalling the same terms is cheap.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Vocabulary, new.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Vocabulary)
	}

	// Options maps make the recognizer section non-comparable with ==.
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.OTLPEndpoint != new.Server.OTLPEndpoint ||
		old.Server.OTLPInsecure != new.Server.OTLPInsecure ||
		old.Audio != new.Audio ||
		old.VAD != new.VAD ||
		old.Consensus != new.Consensus ||
		old.Context != new.Context ||
		old.Pipeline != new.Pipeline ||
		!reflect.DeepEqual(old.Recognizer, new.Recognizer) {
		d.RequiresRestart = true
	}

	return d
}
