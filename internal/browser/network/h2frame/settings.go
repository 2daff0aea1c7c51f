// File: internal/browser/network/h2frame/settings.go
package h2frame

import "math"

// Settings is one endpoint's view of the SETTINGS parameters.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	// MaxHeaderListSize of zero means unlimited.
	MaxHeaderListSize uint32
}

// DefaultSettings returns the values in force before any SETTINGS frame.
// An unset MAX_CONCURRENT_STREAMS is unlimited.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           true,
		MaxConcurrentStreams: math.MaxUint32,
		InitialWindowSize:    DefaultWindowSize,
		MaxFrameSize:         DefaultMaxFrameSize,
	}
}

// Apply validates s and stores it. Unknown identifiers are ignored.
func (st *Settings) Apply(s Setting) error {
	if err := s.Valid(); err != nil {
		return err
	}
	switch s.ID {
	case SettingHeaderTableSize:
		st.HeaderTableSize = s.Val
	case SettingEnablePush:
		st.EnablePush = s.Val == 1
	case SettingMaxConcurrentStreams:
		st.MaxConcurrentStreams = s.Val
	case SettingInitialWindowSize:
		st.InitialWindowSize = s.Val
	case SettingMaxFrameSize:
		st.MaxFrameSize = s.Val
	case SettingMaxHeaderListSize:
		st.MaxHeaderListSize = s.Val
	}
	return nil
}

// Diff returns the settings in st that differ from the defaults, in
// identifier order, ready for WriteSettings.
func (st Settings) Diff() []Setting {
	d := DefaultSettings()
	var out []Setting
	if st.HeaderTableSize != d.HeaderTableSize {
		out = append(out, Setting{SettingHeaderTableSize, st.HeaderTableSize})
	}
	if st.EnablePush != d.EnablePush {
		var v uint32
		if st.EnablePush {
			v = 1
		}
		out = append(out, Setting{SettingEnablePush, v})
	}
	if st.MaxConcurrentStreams != d.MaxConcurrentStreams {
		out = append(out, Setting{SettingMaxConcurrentStreams, st.MaxConcurrentStreams})
	}
	if st.InitialWindowSize != d.InitialWindowSize {
		out = append(out, Setting{SettingInitialWindowSize, st.InitialWindowSize})
	}
	if st.MaxFrameSize != d.MaxFrameSize {
		out = append(out, Setting{SettingMaxFrameSize, st.MaxFrameSize})
	}
	if st.MaxHeaderListSize != d.MaxHeaderListSize {
		out = append(out, Setting{SettingMaxHeaderListSize, st.MaxHeaderListSize})
	}
	return out
}
