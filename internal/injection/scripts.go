package injection

// Page globals installed by the recorder script.
const (
	FlagGlobal = "__webtestflowRecorderActive"
	APIGlobal  = "__webtestflowRecorder"
	MarkerID   = "webtestflow-recorder-indicator"
)

// Params are the per-session values baked into the recorder script. The
// callback URLs are absolute and already carry the hook token, if any.
type Params struct {
	SessionID      string `json:"sessionId"`
	EventURL       string `json:"eventUrl"`
	StatusURL      string `json:"statusUrl"`
	BrowserInfoURL string `json:"browserInfoUrl,omitempty"`
	ReinjectURL    string `json:"reinjectUrl,omitempty"`
	Paused         bool   `json:"paused"`
}

// Profile selects how the shared capture script talks back and what it
// listens to.
type Profile struct {
	Name      string
	Transport string
	Features  []string
}

const (
	transportXHR   = "xhr"
	transportFetch = "fetch"
)

var (
	ProfileNative = Profile{
		Name:      "native",
		Transport: transportFetch,
		Features:  []string{"click", "input", "scroll", "hover", "spa", "unload", "indicator-toggle"},
	}
	ProfileCSPTolerant = Profile{
		Name:      "csp-tolerant",
		Transport: transportXHR,
		Features:  []string{"click", "input", "scroll", "spa", "indicator-toggle"},
	}
	ProfileMinimal = Profile{
		Name:      "minimal",
		Transport: transportXHR,
		Features:  []string{"click", "input"},
	}
	ProfileFull = Profile{
		Name:      "full",
		Transport: transportFetch,
		Features:  []string{"click", "input", "scroll", "hover", "spa", "unload", "indicator-toggle"},
	}
)

type recorderData struct {
	Version string
	Profile Profile
	Params  Params
}

// RecorderScript renders the capture script for one profile.
func (a *Assets) RecorderScript(p Profile, params Params) (string, error) {
	return a.Render("recorder.js.tmpl", recorderData{Version: ScriptVersion, Profile: p, Params: params})
}
