package model

// StageKind is the tagged variant over the fixed set of external
// programs the pipeline invokes. Modeling the pipeline this way instead
// of string-based dispatch keeps the classification table in
// pkg/errors exhaustive: the compiler flags a missing switch arm.
type StageKind int

const (
	StageGenerateAssets StageKind = iota
	StageComposite
	StageVideo
	StageNarration
	StageSFX
	StageAssemble
	StageUpload
	StageFinalize
)

const StageCount = 8

// Stage describes one step of the 8-step pipeline.
type Stage struct {
	Index       int
	Kind        StageKind
	Name        string
	Program     string // external program name under scripts/, empty for non-subprocess stages
	ReviewGate  ReviewGate
	HasGate     bool
}

// Stages is the ordered pipeline, indexed by StageKind/Index.
var Stages = [StageCount]Stage{
	{Index: 0, Kind: StageGenerateAssets, Name: "generate_assets", Program: "generate_asset", ReviewGate: GateAssets, HasGate: true},
	{Index: 1, Kind: StageComposite, Name: "build_composites", Program: "create_composite"},
	{Index: 2, Kind: StageVideo, Name: "generate_video_clips", Program: "generate_video", ReviewGate: GateVideo, HasGate: true},
	{Index: 3, Kind: StageNarration, Name: "generate_narration", Program: "generate_audio"},
	{Index: 4, Kind: StageSFX, Name: "generate_sfx", Program: "generate_sound_effects", ReviewGate: GateAudio, HasGate: true},
	{Index: 5, Kind: StageAssemble, Name: "assemble_final_video", Program: "assemble_video", ReviewGate: GateFinal, HasGate: true},
	{Index: 6, Kind: StageUpload, Name: "upload"},
	{Index: 7, Kind: StageFinalize, Name: "finalize"},
}

// AssetCount, ClipCount, NarrationCount and SFXCount are the fixed
// per-project cardinalities the external programs expect.
const (
	AssetCount     = 22
	ClipCount      = 18
	NarrationCount = 18
	SFXCount       = 18
)

// PlanningDBStatusLabel is one of the 26 external status labels
// mirrored by the sync reconciler.
type PlanningDBStatusLabel string

const (
	LabelDraft              PlanningDBStatusLabel = "Draft"
	LabelQueued             PlanningDBStatusLabel = "Queued"
	LabelClaimed            PlanningDBStatusLabel = "Claimed"
	LabelGeneratingAssets   PlanningDBStatusLabel = "Generating Assets"
	LabelAssetsReady        PlanningDBStatusLabel = "Assets Ready"
	LabelAssetsApproved     PlanningDBStatusLabel = "Assets Approved"
	LabelGeneratingComposites PlanningDBStatusLabel = "Generating Composites"
	LabelCompositesReady    PlanningDBStatusLabel = "Composites Ready"
	LabelGeneratingVideo    PlanningDBStatusLabel = "Generating Video"
	LabelVideoReady         PlanningDBStatusLabel = "Video Ready"
	LabelVideoApproved      PlanningDBStatusLabel = "Video Approved"
	LabelGeneratingAudio    PlanningDBStatusLabel = "Generating Audio"
	LabelAudioReady         PlanningDBStatusLabel = "Audio Ready"
	LabelAudioApproved      PlanningDBStatusLabel = "Audio Approved"
	LabelGeneratingSFX      PlanningDBStatusLabel = "Generating SFX"
	LabelSFXReady           PlanningDBStatusLabel = "SFX Ready"
	LabelAssembling         PlanningDBStatusLabel = "Assembling"
	LabelAssemblyReady      PlanningDBStatusLabel = "Assembly Ready"
	LabelFinalReview        PlanningDBStatusLabel = "Final Review"
	LabelApproved           PlanningDBStatusLabel = "Approved"
	LabelUploading          PlanningDBStatusLabel = "Uploading"
	LabelPublished          PlanningDBStatusLabel = "Published"
	LabelAssetError         PlanningDBStatusLabel = "Asset Error"
	LabelVideoError         PlanningDBStatusLabel = "Video Error"
	LabelAudioError         PlanningDBStatusLabel = "Audio Error"
	LabelUploadError        PlanningDBStatusLabel = "Upload Error"
)
