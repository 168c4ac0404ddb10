package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-report/internal/config"
	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/pkg/anthropic"
)

var (
	// ErrJobFailed is returned when the service reports a failure.
	ErrJobFailed = eris.New("generation: job failed")
	// ErrJobTimeout is returned when the wall-clock or poll budget runs out.
	ErrJobTimeout = eris.New("generation: job timed out")
)

const cancelTimeout = 5 * time.Second

// Output is the collected result of a completed job.
type Output struct {
	Job  *model.GenerationJob
	Text string
	// Parts holds each item's text in creation order.
	Parts []string
}

// Runner submits payloads and polls them to a terminal state.
type Runner struct {
	client anthropic.Client
	ai     config.AnthropicConfig
	gen    config.GenerationConfig
	now    func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(client anthropic.Client, ai config.AnthropicConfig, gen config.GenerationConfig) *Runner {
	return &Runner{client: client, ai: ai, gen: gen, now: time.Now}
}

func (r *Runner) timeout() time.Duration {
	if r.gen.TimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(r.gen.TimeoutSecs) * time.Second
}

func (r *Runner) pollInterval() time.Duration {
	if r.gen.PollIntervalMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(r.gen.PollIntervalMs) * time.Millisecond
}

func (r *Runner) maxPolls() int {
	if r.gen.MaxPolls <= 0 {
		return 30
	}
	return r.gen.MaxPolls
}

// Run submits the payload with its loaded assets and waits for the job. Any
// terminal state other than completed is an error and no partial output is
// returned; the job record is returned either way.
func (r *Runner) Run(ctx context.Context, payload *Payload, assets []Asset) (*Output, *model.GenerationJob, error) {
	job := &model.GenerationJob{
		ID:               uuid.NewString(),
		Status:           model.JobPending,
		SubmittedPayload: payload.Text(),
		CreatedAt:        r.now(),
	}
	for _, a := range assets {
		job.AttachedAssetIDs = append(job.AttachedAssetIDs, a.ID)
	}

	items := r.buildItems(payload, assets)
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("role", string(payload.Role)))
	log.Info("generation: submitting job",
		zap.Int("items", len(items)),
		zap.Int("assets", len(assets)),
		zap.Bool("batch", !r.ai.NoBatch),
	)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	var texts []string
	var err error
	if r.ai.NoBatch {
		texts, err = r.runDirect(runCtx, job, items)
	} else {
		texts, err = r.runBatch(runCtx, job, items)
	}
	job.Elapsed = r.now().Sub(job.CreatedAt)

	if err != nil {
		job.Error = err.Error()
		log.Error("generation: job did not complete",
			zap.String("status", string(job.Status)),
			zap.Int("polls", job.Polls),
			zap.Duration("elapsed", job.Elapsed),
			zap.Error(err),
		)
		return nil, job, err
	}

	toSDKUsage(job.Usage).LogCost(r.ai.Model, "generation")
	log.Info("generation: job completed",
		zap.Int("polls", job.Polls),
		zap.Duration("elapsed", job.Elapsed),
	)
	return &Output{Job: job, Text: strings.Join(texts, "\n\n"), Parts: texts}, job, nil
}

func (r *Runner) buildItems(payload *Payload, assets []Asset) []anthropic.BatchRequestItem {
	items := make([]anthropic.BatchRequestItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		msg := anthropic.Message{Role: "user", Content: it.Context}
		if it.Untrusted != "" {
			msg.Blocks = []string{it.Untrusted}
		}
		if it.NeedsImages && len(assets) == 0 {
			continue
		}
		if it.Attach {
			msg.Images = toImages(assets)
		}
		items = append(items, anthropic.BatchRequestItem{
			CustomID: it.ID,
			Params: anthropic.MessageRequest{
				Model:     r.ai.Model,
				MaxTokens: r.ai.MaxTokens,
				System:    anthropic.BuildCachedSystemBlocks(it.System),
				Messages:  []anthropic.Message{msg},
			},
		})
	}
	return items
}

func (r *Runner) runBatch(ctx context.Context, job *model.GenerationJob, items []anthropic.BatchRequestItem) ([]string, error) {
	batch, err := r.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, r.fail(ctx, job, eris.Wrap(err, "create batch"))
	}
	job.RemoteID = batch.ID
	if err := job.Transition(model.JobRunning); err != nil {
		return nil, eris.Wrap(err, "generation")
	}

	_, err = anthropic.PollBatch(ctx, r.client, batch.ID,
		anthropic.WithFixedInterval(r.pollInterval()),
		anthropic.WithPollMaxAttempts(r.maxPolls()),
		anthropic.WithPollTimeout(r.timeout()),
		anthropic.WithPollObserver(func(attempt int, _ *anthropic.BatchResponse) {
			job.Polls = attempt
		}),
	)
	if err != nil {
		if errors.Is(err, anthropic.ErrPollExhausted) || ctx.Err() != nil {
			r.cancelRemote(ctx, job)
			return nil, r.timeoutJob(job, err)
		}
		return nil, r.fail(ctx, job, eris.Wrap(err, "poll batch"))
	}

	iter, err := r.client.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return nil, r.fail(ctx, job, eris.Wrap(err, "batch results"))
	}
	collected, err := anthropic.CollectBatchResultsDetailed(iter)
	if err != nil {
		return nil, r.fail(ctx, job, err)
	}
	if len(collected.Failures) > 0 {
		f := collected.Failures[0]
		return nil, r.fail(ctx, job, eris.Errorf("item %s %s", f.CustomID, f.Type))
	}

	texts := make([]string, 0, len(items))
	for _, it := range items {
		resp, ok := collected.Succeeded[it.CustomID]
		if !ok {
			return nil, r.fail(ctx, job, eris.Errorf("item %s missing from results", it.CustomID))
		}
		job.Usage.Add(fromSDKUsage(resp.Usage))
		texts = append(texts, messageText(resp))
	}
	return texts, r.complete(job)
}

func (r *Runner) runDirect(ctx context.Context, job *model.GenerationJob, items []anthropic.BatchRequestItem) ([]string, error) {
	if err := job.Transition(model.JobRunning); err != nil {
		return nil, eris.Wrap(err, "generation")
	}

	resps := make([]*anthropic.MessageResponse, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, it := range items {
		g.Go(func() error {
			resp, err := r.client.CreateMessage(gctx, it.Params)
			if err != nil {
				return eris.Wrapf(err, "message %s", it.CustomID)
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, r.timeoutJob(job, err)
		}
		return nil, r.fail(ctx, job, err)
	}

	texts := make([]string, 0, len(resps))
	for _, resp := range resps {
		job.Usage.Add(fromSDKUsage(resp.Usage))
		texts = append(texts, messageText(resp))
	}
	return texts, r.complete(job)
}

func (r *Runner) complete(job *model.GenerationJob) error {
	if err := job.Transition(model.JobCompleted); err != nil {
		return eris.Wrap(err, "generation")
	}
	return nil
}

// fail finalizes the job as failed, or as timed out when the budget is what
// broke the call.
func (r *Runner) fail(ctx context.Context, job *model.GenerationJob, cause error) error {
	if ctx.Err() != nil {
		return r.timeoutJob(job, cause)
	}
	_ = job.Transition(model.JobFailed)
	return eris.Wrapf(ErrJobFailed, "job %s: %v", job.ID, cause)
}

func (r *Runner) timeoutJob(job *model.GenerationJob, cause error) error {
	_ = job.Transition(model.JobTimeout)
	return eris.Wrapf(ErrJobTimeout, "job %s after %d polls: %v", job.ID, job.Polls, cause)
}

// cancelRemote asks the service to stop a batch the caller gave up on. It is
// best-effort and never surfaces an error.
func (r *Runner) cancelRemote(ctx context.Context, job *model.GenerationJob) {
	if job.RemoteID == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if _, err := r.client.CancelBatch(cctx, job.RemoteID); err != nil {
		zap.L().Warn("generation: cancel batch failed",
			zap.String("job_id", job.ID),
			zap.String("batch_id", job.RemoteID),
			zap.Error(err),
		)
	}
}

func messageText(resp *anthropic.MessageResponse) string {
	var parts []string
	for _, c := range resp.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func fromSDKUsage(u anthropic.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
	}
}

func toSDKUsage(u model.TokenUsage) anthropic.TokenUsage {
	return anthropic.TokenUsage{
		InputTokens:              int64(u.InputTokens),
		OutputTokens:             int64(u.OutputTokens),
		CacheCreationInputTokens: int64(u.CacheCreationTokens),
		CacheReadInputTokens:     int64(u.CacheReadTokens),
	}
}
