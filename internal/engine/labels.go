package engine

import "github.com/reelforge/orchestrator/pkg/model"

// generatingLabels and readyLabels give the outbound-mirror label pair
// for stage idx's start and completion. The open question in spec.md §9
// ("gate after SFX, not narration") means the narration stage (idx 3)
// produces a Ready/Approved pair with no actual human wait behind it —
// see readyIsGate.
var generatingLabels = [model.StageCount]model.PlanningDBStatusLabel{
	model.StageGenerateAssets: model.LabelGeneratingAssets,
	model.StageComposite:      model.LabelGeneratingComposites,
	model.StageVideo:          model.LabelGeneratingVideo,
	model.StageNarration:      model.LabelGeneratingAudio,
	model.StageSFX:            model.LabelGeneratingSFX,
	model.StageAssemble:       model.LabelAssembling,
	model.StageUpload:         model.LabelUploading,
	model.StageFinalize:       model.LabelUploading,
}

var readyLabels = [model.StageCount]model.PlanningDBStatusLabel{
	model.StageGenerateAssets: model.LabelAssetsReady,
	model.StageComposite:      model.LabelCompositesReady,
	model.StageVideo:          model.LabelVideoReady,
	model.StageNarration:      model.LabelAudioReady,
	model.StageSFX:            model.LabelSFXReady,
	model.StageAssemble:       model.LabelAssemblyReady,
}

// readyIsGate reports whether stage idx's "Ready" label corresponds to
// an actual awaiting_review block. Composites (no gate) and narration
// (gate deliberately moved to the SFX stage, per spec.md §9) produce a
// Ready label that the engine auto-advances past without waiting on a
// Review row.
func readyIsGate(idx int) bool {
	return model.Stages[idx].HasGate
}

// approvedLabels gives the transient label posted the moment a gate is
// satisfied (human-approved) or auto-advanced (non-gated stage). The
// assets and video gates have an explicit "X Approved" label; the audio
// gate (attached to the SFX stage) has none in the external vocabulary
// — its approval jumps straight to "Assembling", which Process already
// posts as the next stage's Generating label. The final gate (assemble)
// posts "Approved" on approval, the last of the 26 labels.
var approvedLabels = map[model.StageKind]model.PlanningDBStatusLabel{
	model.StageGenerateAssets: model.LabelAssetsApproved,
	model.StageComposite:      model.LabelCompositesReady, // no gate: Ready doubles as Approved
	model.StageVideo:          model.LabelVideoApproved,
	model.StageNarration:      model.LabelAudioApproved, // auto-advanced, see readyIsGate
	model.StageAssemble:       model.LabelApproved,
}

// gateLabels gives the actual awaiting_review label mirrored for a
// gated stage; it matches readyLabels everywhere except assemble, whose
// two-step Ready/Review sequence posts "Assembly Ready" as a transient
// label first (see Process) and only then mirrors "Final Review" as the
// real blocking status an operator acts on.
var gateLabels = [model.StageCount]model.PlanningDBStatusLabel{
	model.StageGenerateAssets: model.LabelAssetsReady,
	model.StageVideo:          model.LabelVideoReady,
	model.StageSFX:            model.LabelSFXReady,
	model.StageAssemble:       model.LabelFinalReview,
}

// errorLabelForStage maps a stage failure to one of the four external
// error labels; the vocabulary has fewer error labels than stages, so
// each label is shared by two stages (engine
// documents this mapping per spec.md §4.8: "the mapping ... is
// documented by the engine").
func errorLabelForStage(idx int) model.PlanningDBStatusLabel {
	switch model.Stages[idx].Kind {
	case model.StageGenerateAssets, model.StageComposite:
		return model.LabelAssetError
	case model.StageVideo, model.StageAssemble:
		return model.LabelVideoError
	case model.StageNarration, model.StageSFX:
		return model.LabelAudioError
	case model.StageUpload, model.StageFinalize:
		return model.LabelUploadError
	default:
		return model.LabelAssetError
	}
}
