package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/orchestrator/internal/subprocess"
	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/model"
)

// runStage executes exactly one pipeline stage for task and reports the
// classified error, if any. It never touches the database: persistence
// happens in Process, strictly outside of this call, so a subprocess
// timeout or an outbound HTTP call never runs underneath an open
// transaction.
func (e *Engine) runStage(ctx context.Context, task *model.Task, channel model.Channel, idx int, videoURL *string) error {
	kind := model.Stages[idx].Kind
	start := time.Now()
	var err error
	switch kind {
	case model.StageGenerateAssets, model.StageComposite, model.StageVideo, model.StageNarration, model.StageSFX, model.StageAssemble:
		err = e.runSubprocessStage(ctx, task, channel, kind)
	case model.StageUpload:
		err = e.runUpload(ctx, task, channel, videoURL)
	case model.StageFinalize:
		err = e.runFinalize(ctx, task, channel, *videoURL)
	default:
		err = fmt.Errorf("unknown stage kind %v", kind)
	}
	e.recordStageMetrics(model.Stages[idx].Name, start, err)
	return err
}

// recordStageMetrics is a no-op if the engine was built without a
// metrics registry (tests, and any deployment that skips Prometheus).
func (e *Engine) recordStageMetrics(stage string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := orcherrors.KindOf(err)
		if kind == orcherrors.KindUnknown {
			kind = classifyGeneric(err)
		}
		e.metrics.StageFailures.WithLabelValues(stage, kind.String()).Inc()
	}
}

// runSubprocessStage invokes the external program for kind, passing it
// only the indices still missing from the workspace so a resumed stage
// regenerates the minimum necessary (spec.md §4.5).
func (e *Engine) runSubprocessStage(ctx context.Context, task *model.Task, channel model.Channel, kind model.StageKind) error {
	inv, ok := subprocess.Invocations[kind]
	if !ok {
		return fmt.Errorf("no invocation registered for stage kind %v", kind)
	}

	projectDir, err := e.layout.EnsureProject(channel.ID, task.ID)
	if err != nil {
		return orcherrors.Classify(orcherrors.KindInfrastructure, err)
	}

	args := []string{"--project-dir", projectDir, "--channel", channel.ChannelID}
	if channel.VoiceID != "" && kind == model.StageNarration {
		args = append(args, "--voice-id", channel.VoiceID)
	}

	switch kind {
	case model.StageGenerateAssets:
		args = append(args, indexArgs("--missing-assets", e.layout.MissingAssets(channel.ID, task.ID))...)
	case model.StageComposite:
		args = append(args, indexArgs("--missing-composites", e.layout.MissingComposites(channel.ID, task.ID))...)
	case model.StageVideo:
		args = append(args, indexArgs("--missing-clips", e.layout.MissingClips(channel.ID, task.ID))...)
	case model.StageNarration:
		args = append(args, indexArgs("--missing-narrations", e.layout.MissingNarrations(channel.ID, task.ID))...)
	case model.StageSFX:
		args = append(args, indexArgs("--missing-sfx", e.layout.MissingSFX(channel.ID, task.ID))...)
	case model.StageAssemble:
		args = append(args, "--intro", channel.IntroPath, "--outro", channel.OutroPath,
			"--output", e.layout.FinalPath(channel.ID, task.ID))
	}

	res, err := e.supervisor.Run(ctx, inv.Program, args, 0)
	if err != nil {
		return orcherrors.Classify(classifySubprocessError(err, inv), err)
	}

	e.recordCost(ctx, task.ID, channel.ID, costComponentFor(kind))
	_ = res
	return nil
}

func indexArgs(flag string, missing []int) []string {
	if len(missing) == 0 {
		return nil
	}
	strs := make([]string, len(missing))
	for i, n := range missing {
		strs[i] = strconv.Itoa(n)
	}
	return []string{flag, strings.Join(strs, ",")}
}

func costComponentFor(kind model.StageKind) model.CostComponent {
	switch kind {
	case model.StageGenerateAssets:
		return model.ComponentAssets
	case model.StageComposite:
		return model.ComponentComposites
	case model.StageVideo:
		return model.ComponentVideoClips
	case model.StageNarration:
		return model.ComponentNarration
	case model.StageSFX:
		return model.ComponentSFX
	case model.StageAssemble:
		return model.ComponentAssembly
	default:
		return model.ComponentAssembly
	}
}

// recordCost records a nominal per-invocation entry (Units 1, APICalls 1)
// with no cost_usd. Actual USD pricing is computed by the external
// programs themselves and is not reported back to the engine, so these
// entries add nothing to SumUSDForChannelToday.
func (e *Engine) recordCost(ctx context.Context, taskID, channelID uuid.UUID, component model.CostComponent) {
	entry := model.CostEntry{TaskID: taskID, ChannelID: channelID, Component: component, Units: 1, APICalls: 1}
	if _, err := e.costs.Record(ctx, entry); err != nil {
		e.log.Warnw("failed to record cost entry", "component", component, "error", err)
	}
}

// runUpload decrypts the channel's upload refresh token, reserves
// upload-quota units and performs the upload. *videoURL is filled in on
// success for the finalize stage to use within the same Process call.
func (e *Engine) runUpload(ctx context.Context, task *model.Task, channel model.Channel, videoURL *string) error {
	refreshToken, err := e.vault.DecryptString(channel.EncUploadRefreshToken)
	if err != nil {
		return orcherrors.Classify(orcherrors.KindReauthRequired, err)
	}

	ceiling := 100.0
	if channel.DailySpendCapUSD != nil {
		ceiling = *channel.DailySpendCapUSD
	}

	result, err := e.uploader.Upload(ctx, channel.ID, channel.ChannelID, refreshToken, ceiling,
		e.layout.FinalPath(channel.ID, task.ID), task.Title, task.Topic, channel.UploadPrivacyDefault, 1.0)
	if err != nil {
		return err // already a *orcherrors.Classified from the uploader
	}

	*videoURL = result.VideoURL
	return nil
}

// runFinalize reports the published URL back to the planning database.
// Its errors carry the planning-db client's classification; a terminal
// failure here is mirrored as Upload Error by errorLabelForStage, the
// same label an upload failure gets.
func (e *Engine) runFinalize(ctx context.Context, task *model.Task, channel model.Channel, videoURL string) error {
	token, err := e.vault.DecryptString(channel.EncPlanningDBToken)
	if err != nil {
		return orcherrors.Classify(orcherrors.KindReauthRequired, err)
	}
	return e.planning.FinalizeURL(ctx, token, task.PlanningPageRef, videoURL)
}
