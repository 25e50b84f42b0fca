package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// sections are reported individually; everything else that changed is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	WidgetChanged      bool
	CatalogFileChanged bool
	ChatChanged        bool
	AnalysisChanged    bool
	VoiceChanged       bool

	// RestartRequired names sections that only take effect after a restart.
	RestartRequired []string
}

// HasChanges reports whether anything differs.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.WidgetChanged || d.CatalogFileChanged ||
		d.ChatChanged || d.AnalysisChanged || d.VoiceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.WidgetChanged = !widgetEqual(old.Widget, new.Widget)
	d.CatalogFileChanged = old.Catalog.File != new.Catalog.File
	d.ChatChanged = old.Chat != new.Chat
	d.AnalysisChanged = old.Analysis != new.Analysis
	d.VoiceChanged = !reflect.DeepEqual(old.Voice, new.Voice)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		!slices.Equal(old.Server.CORSOrigins, new.Server.CORSOrigins) ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Speech != new.Speech {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	return d
}

func widgetEqual(a, b WidgetConfig) bool {
	return a.APIURL == b.APIURL &&
		a.PrimaryColor == b.PrimaryColor &&
		a.MascotImage == b.MascotImage &&
		a.VoiceEnabled() == b.VoiceEnabled()
}
