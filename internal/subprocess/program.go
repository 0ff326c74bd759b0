package subprocess

import (
	"regexp"

	"github.com/reelforge/orchestrator/pkg/model"
)

// Invocation describes one external program's argv shape and the
// stderr patterns that mean "permanent, do not retry" for that
// program. Modeling the fixed program set this way (§9 design notes)
// keeps the retry-classification table exhaustive instead of relying
// on ad-hoc string dispatch scattered through the engine.
type Invocation struct {
	Kind               model.StageKind
	Program            string
	Timeout             string // human label only, actual durations come from config
	PermanentStderrRE  []*regexp.Regexp
}

var permanentAuthPattern = regexp.MustCompile(`(?i)invalid api key|unauthorized|forbidden`)
var permanentInputPattern = regexp.MustCompile(`(?i)invalid (story|topic|prompt|input)|malformed`)

// Invocations is the fixed variant set of external programs this
// orchestrator drives.
var Invocations = map[model.StageKind]Invocation{
	model.StageGenerateAssets: {
		Kind: model.StageGenerateAssets, Program: "generate_asset",
		PermanentStderrRE: []*regexp.Regexp{permanentAuthPattern, permanentInputPattern},
	},
	model.StageComposite: {
		Kind: model.StageComposite, Program: "create_composite",
		PermanentStderrRE: []*regexp.Regexp{permanentInputPattern},
	},
	model.StageVideo: {
		Kind: model.StageVideo, Program: "generate_video",
		PermanentStderrRE: []*regexp.Regexp{permanentAuthPattern, permanentInputPattern},
	},
	model.StageNarration: {
		Kind: model.StageNarration, Program: "generate_audio",
		PermanentStderrRE: []*regexp.Regexp{permanentAuthPattern},
	},
	model.StageSFX: {
		Kind: model.StageSFX, Program: "generate_sound_effects",
		PermanentStderrRE: []*regexp.Regexp{permanentAuthPattern},
	},
	model.StageAssemble: {
		Kind: model.StageAssemble, Program: "assemble_video",
		PermanentStderrRE: []*regexp.Regexp{permanentInputPattern},
	},
}

// IsPermanentFailure reports whether stderr matches one of this
// program's caller-declared permanent patterns (spec.md §4.4): a
// NonZeroExit whose stderr matches is classified permanent rather than
// retriable, regardless of exit code.
func (i Invocation) IsPermanentFailure(stderr string) bool {
	for _, re := range i.PermanentStderrRE {
		if re.MatchString(stderr) {
			return true
		}
	}
	return false
}
