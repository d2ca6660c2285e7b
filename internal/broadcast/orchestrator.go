// Package broadcast drives broadcast runs: recipient resolution, rendering,
// per-channel delivery and the draft -> in_progress -> completed/failed
// lifecycle.
package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/usncompetitions/notifier/internal/channel"
	"github.com/usncompetitions/notifier/internal/metrics"
	"github.com/usncompetitions/notifier/internal/models"
	"github.com/usncompetitions/notifier/internal/recipient"
	"github.com/usncompetitions/notifier/internal/repository"
	"github.com/usncompetitions/notifier/internal/template"
)

var (
	ErrBroadcastNotFound = errors.New("broadcast not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrBroadcastNotDraft = errors.New("broadcast is not in draft status")
	ErrTemplateInactive  = errors.New("template is inactive")
)

// DefaultSampleSize is the number of renderings in a preview
const DefaultSampleSize = 5

const (
	noRecipientsNote = "No recipients found"
	dateLayout       = "2006-01-02"
	timeLayout       = "15:04:05"
)

// Orchestrator executes broadcasts. Recipients are processed sequentially,
// one channel at a time.
type Orchestrator struct {
	broadcasts *repository.BroadcastRepository
	templates  *repository.TemplateRepository
	ledger     *repository.LedgerRepository
	recipients *recipient.Filter
	renderer   *template.Renderer
	channels   channel.Registry
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an orchestrator over db. m may be nil.
func New(db *sql.DB, renderer *template.Renderer, channels channel.Registry, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		broadcasts: repository.NewBroadcastRepository(db),
		templates:  repository.NewTemplateRepository(db),
		ledger:     repository.NewLedgerRepository(db),
		recipients: recipient.NewFilter(db),
		renderer:   renderer,
		channels:   channels,
		metrics:    m,
		logger:     logger.With("component", "broadcast"),
		now:        time.Now,
	}
}

// run is the state shared by all recipients of one execution
type run struct {
	broadcast *models.Broadcast
	template  *models.MessageTemplate
	channels  []channel.Channel
	dryRun    bool
	vars      map[string]any
	logger    *slog.Logger
}

// Preview renders up to sampleSize recipients without side effects.
// Template syntax errors are reported in the result, not as an error.
func (o *Orchestrator) Preview(ctx context.Context, id string, sampleSize int) (*models.BroadcastPreview, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	b, tmpl, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}

	preview := &models.BroadcastPreview{
		BroadcastID:  b.ID,
		Name:         b.Name,
		TemplateName: tmpl.Name,
		Channels:     b.EnabledChannels(),
		Variables:    template.ExtractVariables(tmpl.Subject + "\n" + tmpl.TelegramBody + "\n" + tmpl.EmailBody),
		Samples:      []models.PreviewSample{},
	}
	if preview.Channels == nil {
		preview.Channels = []string{}
		preview.Errors = append(preview.Errors, "no delivery channel is enabled")
	}
	if !tmpl.IsActive {
		preview.Errors = append(preview.Errors, ErrTemplateInactive.Error())
	}
	for field, text := range map[string]string{
		"subject":       tmpl.Subject,
		"telegram_body": tmpl.TelegramBody,
		"email_body":    tmpl.EmailBody,
	} {
		if ok, msg := o.renderer.Validate(text); !ok {
			preview.Errors = append(preview.Errors, fmt.Sprintf("%s: %s", field, msg))
		}
	}

	recipients, err := o.resolve(ctx, b)
	if err != nil {
		return nil, err
	}
	preview.TotalRecipients = len(recipients)

	base := o.runVars()
	for i, r := range recipients {
		if i >= sampleSize {
			break
		}
		sample := models.PreviewSample{UserID: r.UserID, Name: r.FullName()}
		subject, bodies, err := o.render(tmpl, r, base)
		if err != nil {
			sample.Error = err.Error()
		} else {
			sample.Subject = subject
			sample.TelegramBody = bodies[models.ChannelTelegram]
			sample.EmailBody = bodies[models.ChannelEmail]
		}
		preview.Samples = append(preview.Samples, sample)
	}

	return preview, nil
}

// Execute runs a broadcast. A dry run renders every recipient and reports
// channel status "simulated" without sending or writing anything.
//
// Load failures return an error before any mutation. Per-recipient
// failures are recorded in the ledger and the summary. A cancelled run is
// marked failed and returns the results gathered so far with the error.
func (o *Orchestrator) Execute(ctx context.Context, id string, dryRun bool) (*models.ExecutionSummary, error) {
	b, tmpl, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, ErrTemplateInactive
	}
	if !dryRun && b.Status != models.BroadcastDraft {
		return nil, ErrBroadcastNotDraft
	}

	logger := o.logger.With("broadcast_id", b.ID, "dry_run", dryRun)
	ru := &run{
		broadcast: b,
		template:  tmpl,
		channels:  o.activeChannels(b, logger),
		dryRun:    dryRun,
		vars:      o.runVars(),
		logger:    logger,
	}

	started := o.now()
	if !dryRun {
		if err := o.broadcasts.MarkInProgress(ctx, b.ID, started); err != nil {
			switch {
			case errors.Is(err, repository.ErrStatusConflict):
				return nil, ErrBroadcastNotDraft
			case errors.Is(err, repository.ErrNotFound):
				return nil, ErrBroadcastNotFound
			}
			return nil, err
		}
		o.metrics.RunStarted()
	}

	logger.Info("broadcast started", "name", b.Name, "channels", len(ru.channels))

	summary, err := o.execute(ctx, ru)
	if err != nil {
		logger.Error("broadcast failed", "error", err)
		if !dryRun {
			o.fail(ctx, b.ID, started, logger)
		}
		// partial results of an interrupted run
		return summary, err
	}

	if dryRun {
		logger.Info("dry run finished", "total", summary.TotalRecipients, "sent", summary.Sent, "failed", summary.Failed)
		return summary, nil
	}

	finalCtx := context.WithoutCancel(ctx)
	if err := o.broadcasts.Complete(finalCtx, b.ID, summary.Sent, summary.Failed, o.now()); err != nil {
		logger.Error("failed to record final counters", "error", err)
		o.fail(ctx, b.ID, started, logger)
		return summary, fmt.Errorf("failed to finalize broadcast: %w", err)
	}

	o.metrics.RunFinished(string(models.BroadcastCompleted), o.now().Sub(started))
	logger.Info("broadcast completed", "total", summary.TotalRecipients, "sent", summary.Sent, "failed", summary.Failed)
	return summary, nil
}

// execute runs steps after the status transition
func (o *Orchestrator) execute(ctx context.Context, ru *run) (*models.ExecutionSummary, error) {
	b := ru.broadcast
	summary := &models.ExecutionSummary{
		BroadcastID: b.ID,
		DryRun:      ru.dryRun,
		Results:     []models.RecipientResult{},
	}

	recipients, err := o.resolve(ctx, b)
	if err != nil {
		return nil, err
	}
	summary.TotalRecipients = len(recipients)

	if !ru.dryRun {
		if err := o.broadcasts.SetTotal(ctx, b.ID, len(recipients)); err != nil {
			return nil, err
		}
	}

	if len(recipients) == 0 {
		ru.logger.Warn("no recipients found")
		summary.Note = noRecipientsNote
		return summary, nil
	}

	rowIDs := make(map[int64]string, len(recipients))
	if !ru.dryRun {
		rows := make([]models.BroadcastRecipient, 0, len(recipients))
		for _, r := range recipients {
			rows = append(rows, models.BroadcastRecipient{
				BroadcastID: b.ID,
				UserID:      r.UserID,
				TelegramID:  r.TelegramID,
				Email:       r.Email,
			})
		}
		inserted, err := o.ledger.CreateBatch(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to create ledger: %w", err)
		}
		for _, row := range inserted {
			rowIDs[row.UserID] = row.ID
		}
	}

	for i, r := range recipients {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("broadcast interrupted after %d of %d recipients: %w", i, len(recipients), err)
		}

		result := o.deliver(ctx, ru, r, rowIDs[r.UserID])
		if result.Success {
			summary.Sent++
		} else {
			summary.Failed++
		}
		if !ru.dryRun {
			o.metrics.IncRecipients(result.Success)
		}
		summary.Results = append(summary.Results, result)
	}

	return summary, nil
}

// deliver renders and sends one recipient on every active channel.
// The recipient succeeds when any channel succeeds.
func (o *Orchestrator) deliver(ctx context.Context, ru *run, r models.Recipient, rowID string) models.RecipientResult {
	logger := ru.logger.With("user_id", r.UserID)
	result := models.RecipientResult{
		UserID:   r.UserID,
		Name:     r.FullName(),
		Channels: make(map[string]models.ChannelOutcome),
	}

	subject, bodies, err := o.render(ru.template, r, ru.vars)
	if err != nil {
		logger.Warn("render failed", "error", err)
		o.metrics.IncRenderErrors()
		result.Error = fmt.Sprintf("rendering failed: %v", err)
		if !ru.dryRun {
			for _, ch := range ru.channels {
				o.record(ctx, rowID, ch.Name(), &channel.DeliveryResult{Status: models.DeliveryFailed, Error: result.Error}, logger)
			}
		}
		return result
	}

	if len(ru.channels) == 0 {
		result.Error = "no delivery channel available"
		return result
	}

	if !ru.dryRun && rowID != "" {
		if err := o.ledger.SetRendered(ctx, rowID, subject, bodies[ru.channels[0].Name()]); err != nil {
			logger.Error("failed to store rendered message", "error", err)
		}
	}

	for _, ch := range ru.channels {
		name := ch.Name()

		if ru.dryRun {
			status := models.DeliverySimulated
			if !ch.ValidateRecipient(r) {
				status = models.DeliveryBlocked
			}
			result.Channels[name] = models.ChannelOutcome{Status: status}
			if status == models.DeliverySimulated {
				result.Success = true
			}
			continue
		}

		start := time.Now()
		res := ch.Send(ctx, r, subject, bodies[name])
		o.metrics.ObserveDelivery(name, string(res.Status), time.Since(start))

		if !res.Success {
			logger.Warn("delivery failed", "channel", name, "status", res.Status, "error", res.Error)
		}

		result.Channels[name] = models.ChannelOutcome{Status: res.Status, MessageID: res.MessageID, Error: res.Error}
		if res.Success {
			result.Success = true
		}
		o.record(ctx, rowID, name, res, logger)
	}

	return result
}

// record writes one channel outcome to the ledger. Failures are logged.
func (o *Orchestrator) record(ctx context.Context, rowID, name string, res *channel.DeliveryResult, logger *slog.Logger) {
	if rowID == "" {
		return
	}
	// the message is already out; its outcome is stored even when the run
	// is being cancelled
	ctx = context.WithoutCancel(ctx)

	var err error
	switch name {
	case models.ChannelTelegram:
		err = o.ledger.UpdateTelegram(ctx, rowID, res.Status, res.SentAt, res.Error, res.MessageID)
	case models.ChannelEmail:
		err = o.ledger.UpdateEmail(ctx, rowID, res.Status, res.SentAt, res.Error)
	}
	if err != nil {
		logger.Error("failed to update ledger", "channel", name, "error", err)
	}
}

// render produces the subject and the body of each channel
func (o *Orchestrator) render(tmpl *models.MessageTemplate, r models.Recipient, base map[string]any) (string, map[string]string, error) {
	vars := r.TemplateVars()
	for k, v := range base {
		vars[k] = v
	}

	subject, err := o.renderer.Render(tmpl.Subject, vars, template.ModeLax)
	if err != nil {
		return "", nil, fmt.Errorf("subject: %w", err)
	}

	bodies := make(map[string]string, 2)
	for _, name := range []string{models.ChannelTelegram, models.ChannelEmail} {
		body, err := o.renderer.Render(tmpl.BodyFor(name), vars, template.ModeLax)
		if err != nil {
			return "", nil, fmt.Errorf("%s body: %w", name, err)
		}
		bodies[name] = body
	}

	return subject, bodies, nil
}

// activeChannels returns the enabled channels that are registered and
// configured, chat first
func (o *Orchestrator) activeChannels(b *models.Broadcast, logger *slog.Logger) []channel.Channel {
	var active []channel.Channel
	for _, name := range b.EnabledChannels() {
		ch, ok := o.channels[name]
		if !ok {
			logger.Warn("channel not registered, skipping", "channel", name)
			continue
		}
		if !ch.ValidateConfiguration() {
			logger.Warn("channel not configured, skipping", "channel", name)
			continue
		}
		active = append(active, ch)
	}
	return active
}

// resolve returns the recipients of b, one per user in filter order
func (o *Orchestrator) resolve(ctx context.Context, b *models.Broadcast) ([]models.Recipient, error) {
	recipients, err := o.recipients.GetRecipients(ctx, b.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	return dedupe(recipients), nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*models.Broadcast, *models.MessageTemplate, error) {
	b, err := o.broadcasts.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load broadcast: %w", err)
	}
	if b == nil {
		return nil, nil, ErrBroadcastNotFound
	}

	tmpl, err := o.templates.GetByID(ctx, b.TemplateID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil {
		return nil, nil, ErrTemplateNotFound
	}

	return b, tmpl, nil
}

// fail moves a running broadcast to failed, best effort
func (o *Orchestrator) fail(ctx context.Context, id string, started time.Time, logger *slog.Logger) {
	if err := o.broadcasts.MarkFailed(context.WithoutCancel(ctx), id, o.now()); err != nil {
		logger.Error("failed to mark broadcast failed", "error", err)
	}
	o.metrics.RunFinished(string(models.BroadcastFailed), o.now().Sub(started))
}

// Reset returns a started broadcast to draft and purges its ledger
func (o *Orchestrator) Reset(ctx context.Context, id string) error {
	if err := o.broadcasts.Reset(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrBroadcastNotFound
		}
		return err
	}
	o.logger.Info("broadcast reset", "broadcast_id", id)
	return nil
}

// runVars are the variables shared by every recipient of a run
func (o *Orchestrator) runVars() map[string]any {
	now := o.now()
	return map[string]any{
		"date": now.Format(dateLayout),
		"time": now.Format(timeLayout),
	}
}

// dedupe keeps the first row of each user
func dedupe(recipients []models.Recipient) []models.Recipient {
	seen := make(map[int64]struct{}, len(recipients))
	unique := make([]models.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		unique = append(unique, r)
	}
	return unique
}
