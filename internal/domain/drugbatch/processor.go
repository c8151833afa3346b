package drugbatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxlearn/rxlearn/internal/domain/drug"
	"github.com/rxlearn/rxlearn/internal/domain/drugrequest"
	"github.com/rxlearn/rxlearn/internal/platform/archive"
	"github.com/rxlearn/rxlearn/internal/platform/cache"
	"github.com/rxlearn/rxlearn/internal/platform/enrichment"
	"github.com/rxlearn/rxlearn/internal/platform/metrics"
)

// Library resolves reference data and writes drugs. *drug.Service satisfies it.
type Library interface {
	ResolveManufacturer(ctx context.Context, name string) (*drug.Manufacturer, bool, error)
	ResolveClass(ctx context.Context, pharmClass []string) (*drug.DrugClass, bool, error)
	UpsertDrug(ctx context.Context, d *drug.Drug) (bool, error)
}

// Recorder receives batch metrics. metrics.BatchRecorder satisfies it.
type Recorder interface {
	ObserveRun(outcome string, d time.Duration, drugsCreated, requestsApproved int)
	SetStale(n int)
}

type ProcessorConfig struct {
	Batches  Repository
	Requests Membership
	Library  Library
	Enricher enrichment.Client
	Tx       Transactor
	Archive  archive.Store
	Views    cache.ViewCache
	Metrics  Recorder
	Logger   zerolog.Logger
	// Timeout bounds the enrichment call. Zero means no extra deadline.
	Timeout time.Duration
}

// Processor runs the enrichment and reconciliation of one batch.
type Processor struct {
	cfg ProcessorConfig
	now func() time.Time
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Views == nil {
		cfg.Views = cache.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.BatchRecorder{}
	}
	return &Processor{cfg: cfg, now: time.Now}
}

var errBatchMoved = errors.New("batch left processing during the run")

type tally struct {
	records   int
	matched   int
	drugs     int
	approved  int
	unmatched int
}

// ProcessBatch enriches every member name in one call and reconciles the
// records into the drug library. The batch is claimed with a status
// compare-and-swap, so only one caller processes it at a time. All library
// writes and the completion of the batch share one transaction; on any error
// they roll back and the batch is marked failed, ready for a retry. Once
// claimed, the run is detached from ctx cancellation and bounded only by the
// configured enrichment timeout, so a caller that goes away cannot leave the
// batch in processing.
func (p *Processor) ProcessBatch(ctx context.Context, batchID uuid.UUID) Result {
	log := p.cfg.Logger.With().Str("batch_id", batchID.String()).Logger()

	b, err := p.cfg.Batches.GetByID(ctx, batchID)
	if errors.Is(err, ErrNotFound) {
		return fail(MsgBatchEmpty)
	}
	if err != nil {
		log.Error().Err(err).Msg("load batch")
		return fail(MsgProcessFailed)
	}

	members, err := p.cfg.Requests.ListByBatch(ctx, batchID)
	if err != nil {
		log.Error().Err(err).Msg("load batch members")
		return fail(MsgProcessFailed)
	}
	if len(members) == 0 {
		return fail(MsgBatchEmpty)
	}
	if b.Status == StatusCompleted {
		return fail(MsgBatchCompleted)
	}

	claimed, err := advance(ctx, p.cfg.Batches, batchID, StatusProcessing)
	if err != nil {
		log.Error().Err(err).Msg("claim batch")
		return fail(MsgProcessFailed)
	}
	if !claimed {
		p.cfg.Metrics.ObserveRun(metrics.OutcomeRejected, 0, 0, 0)
		return fail(MsgAlreadyProcessing)
	}
	ctx = context.WithoutCancel(ctx)
	p.invalidate(ctx, log)

	start := p.now()
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.DrugName
	}
	log.Info().Int("members", len(members)).Int("attempt", b.Attempts+1).Msg("processing drug batch")

	records, err := p.enrich(ctx, names)
	if err != nil {
		return p.failRun(ctx, log, batchID, start, fmt.Errorf("enrich: %w", err))
	}
	p.archive(ctx, log, batchID, start, records)

	var t tally
	err = p.cfg.Tx.InTx(ctx, func(ctx context.Context) error {
		t = tally{records: len(records)}
		// Local copies so a rolled back run does not leak status changes.
		pending := make([]drugrequest.DrugRequest, len(members))
		for i, m := range members {
			pending[i] = *m
		}

		for i := range records {
			if err := p.reconcile(ctx, &records[i], pending, &t); err != nil {
				return fmt.Errorf("record %d (%s / %s): %w", i, records[i].BrandName, records[i].GenericName, err)
			}
		}

		moved, err := advance(ctx, p.cfg.Batches, batchID, StatusCompleted)
		if err != nil {
			return err
		}
		if !moved {
			return errBatchMoved
		}
		return nil
	})
	if err != nil {
		return p.failRun(ctx, log, batchID, start, err)
	}

	elapsed := p.now().Sub(start)
	p.cfg.Metrics.ObserveRun(metrics.OutcomeCompleted, elapsed, t.drugs, t.approved)
	p.invalidate(ctx, log)
	log.Info().
		Int("records", t.records).
		Int("matched_records", t.matched).
		Int("unmatched_records", t.unmatched).
		Int("drugs_created", t.drugs).
		Int("requests_approved", t.approved).
		Dur("elapsed", elapsed).
		Msg("drug batch completed")

	return ok(fmt.Sprintf(msgProcessedF, t.drugs, t.approved))
}

func (p *Processor) enrich(ctx context.Context, names []string) ([]enrichment.Record, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	return p.cfg.Enricher.Enrich(ctx, names)
}

// reconcile applies one record: find the members it answers, resolve its
// reference data, upsert the drug and approve every matching member.
func (p *Processor) reconcile(ctx context.Context, rec *enrichment.Record, members []drugrequest.DrugRequest, t *tally) error {
	var matches []*drugrequest.DrugRequest
	for i := range members {
		if matchesRecord(&members[i], rec) {
			matches = append(matches, &members[i])
		}
	}
	if len(matches) == 0 {
		t.unmatched++
		return nil
	}
	t.matched++

	m, _, err := p.cfg.Library.ResolveManufacturer(ctx, rec.ManufacturerName)
	if err != nil {
		return err
	}
	cls, _, err := p.cfg.Library.ResolveClass(ctx, rec.PharmClass)
	if err != nil {
		return err
	}

	d := &drug.Drug{
		BrandName:               rec.BrandName,
		GenericName:             rec.GenericName,
		ManufacturerID:          m.ID,
		ClassID:                 cls.ID,
		IndicationsAndUsage:     rec.IndicationsAndUsage,
		MechanismOfAction:       rec.MechanismOfAction,
		DosageAndAdministration: rec.DosageAndAdministration,
		BoxedWarning:            rec.Warnings,
		Formula:                 rec.ActiveIngredient,
	}
	created, err := p.cfg.Library.UpsertDrug(ctx, d)
	if err != nil {
		return err
	}
	if created {
		t.drugs++
	}

	for _, req := range matches {
		updated, err := p.cfg.Requests.Approve(ctx, req.ID, d.ID)
		if err != nil {
			return fmt.Errorf("approve request %s: %w", req.ID, err)
		}
		if updated && req.Status == drugrequest.StatusPending {
			t.approved++
		}
		if updated {
			req.Status = drugrequest.StatusApproved
			id := d.ID
			req.CreatedDrugID = &id
		}
	}
	return nil
}

// matchesRecord compares the raw requested name, case-insensitively, with the
// record's brand and generic names. Whitespace is significant. Rejected
// requests never match.
func matchesRecord(req *drugrequest.DrugRequest, rec *enrichment.Record) bool {
	if req.Status == drugrequest.StatusRejected {
		return false
	}
	return (rec.BrandName != "" && strings.EqualFold(req.DrugName, rec.BrandName)) ||
		(rec.GenericName != "" && strings.EqualFold(req.DrugName, rec.GenericName))
}

func (p *Processor) failRun(ctx context.Context, log zerolog.Logger, batchID uuid.UUID, start time.Time, cause error) Result {
	log.Error().Err(cause).Msg("drug batch failed")

	moved, err := advance(ctx, p.cfg.Batches, batchID, StatusFailed)
	if err != nil {
		log.Error().Err(err).Msg("mark batch failed")
	} else if !moved {
		log.Warn().Msg("batch was not in processing when marking it failed")
	}

	p.cfg.Metrics.ObserveRun(metrics.OutcomeFailed, p.now().Sub(start), 0, 0)
	p.invalidate(ctx, log)
	return fail(MsgProcessFailed)
}

func (p *Processor) archive(ctx context.Context, log zerolog.Logger, batchID uuid.UUID, at time.Time, records []enrichment.Record) {
	if p.cfg.Archive == nil {
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		log.Warn().Err(err).Msg("encode enrichment payload")
		return
	}
	obj, err := archive.PutJSON(ctx, p.cfg.Archive, archive.BatchKey(batchID, at), data)
	if err != nil {
		log.Warn().Err(err).Msg("archive enrichment payload")
		return
	}
	log.Debug().Str("key", obj.Key).Int64("size", obj.Size).Msg("archived enrichment payload")
}

func (p *Processor) invalidate(ctx context.Context, log zerolog.Logger) {
	if err := p.cfg.Views.Invalidate(ctx, cache.AdminBatchesView); err != nil {
		log.Warn().Err(err).Msg("invalidate admin batch view")
	}
}
