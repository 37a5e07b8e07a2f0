package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/apperrors"
	"github.com/ekaya-inc/medsearch/pkg/dailymed"
	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/keylock"
	"github.com/ekaya-inc/medsearch/pkg/metrics"
	"github.com/ekaya-inc/medsearch/pkg/models"
)

const effectiveDateLayout = "20060102"

// DetailSyncer synchronizes the detail of one SPL.
type DetailSyncer interface {
	// Sync reports whether the SPL's detail was written. Failures local to
	// the SPL are recorded as issues and reported as (false, nil); only
	// infrastructure errors are returned.
	Sync(ctx context.Context, ref models.SPLRef) (bool, error)
}

// DetailSynchronizer fetches an SPL detail document and writes its form,
// med, organization and their link as one unit.
type DetailSynchronizer struct {
	fetcher dailymed.Fetcher
	db      database.Transactor
	repos   Repositories
	issues  IssueRecorder
	locks   *keylock.Locker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ DetailSyncer = (*DetailSynchronizer)(nil)

// NewDetailSynchronizer creates a DetailSynchronizer. locks serializes
// units that share a form or organization key and may be shared between
// synchronizers.
func NewDetailSynchronizer(
	fetcher dailymed.Fetcher,
	db database.Transactor,
	repos Repositories,
	issues IssueRecorder,
	locks *keylock.Locker,
	logger *zap.Logger,
	m *metrics.Metrics,
) *DetailSynchronizer {
	if locks == nil {
		locks = keylock.New()
	}
	return &DetailSynchronizer{
		fetcher: fetcher,
		db:      db,
		repos:   repos,
		issues:  issues,
		locks:   locks,
		logger:  logger.Named("detail-synchronizer"),
		metrics: m,
	}
}

// stepError tags a failure inside the unit with the issue it becomes.
type stepError struct {
	op    models.OperationType
	table string
	err   error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.op, e.table, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

func step(op models.OperationType, table string, err error) error {
	if err == nil {
		return nil
	}
	return &stepError{op: op, table: table, err: err}
}

func (s *DetailSynchronizer) Sync(ctx context.Context, ref models.SPLRef) (bool, error) {
	logger := s.logger.With(zap.Int64("spl_id", ref.ID), zap.String("set_id", ref.SetID))

	raw, err := s.fetcher.FetchSPL(ctx, ref.SetID, ref.Version)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.issues.RecordDataIssue(ctx, ref.ID, models.OperationDownload, nil,
			fmt.Sprintf("No response for SPL %d, set_id: %s: %v", ref.ID, ref.SetID, err))
		s.metrics.DetailSynced(metrics.OutcomeDownloadFailed)
		return false, nil
	}

	detail, err := dailymed.ParseSPLDetail(ctx, raw, ref.ID, s.issues)
	if err != nil {
		logger.Error("Error parsing SPL detail", zap.Error(err))
		s.metrics.DetailSynced(metrics.OutcomeParseError)
		return false, nil
	}

	med, err := buildMed(ref.ID, detail)
	if err != nil {
		s.recordStepFailure(ctx, ref.ID, &stepError{op: models.OperationSave, table: models.TableMeds, err: err})
		return false, nil
	}

	unlock, err := s.locks.LockAll(ctx, formLockKey(detail), orgLockKey(detail))
	if err != nil {
		return false, err
	}
	defer unlock()

	err = s.db.WithTx(ctx, func(q database.Querier) error {
		formID, err := s.resolveForm(ctx, q, logger, detail)
		if err != nil {
			return step(models.OperationCreate, models.TableMedForms, err)
		}

		med.MedFormID = formID
		medID, err := s.repos.Meds.Upsert(ctx, q, med)
		if err != nil {
			return step(models.OperationSave, models.TableMeds, err)
		}

		orgID, err := s.resolveOrganization(ctx, q, logger, detail)
		if err != nil {
			return step(models.OperationCreate, models.TableOrganizations, err)
		}

		if orgID != nil {
			if err := s.repos.Meds.LinkOrganization(ctx, q, medID, *orgID); err != nil {
				return step(models.OperationSave, models.TableMedOrganizationMap, err)
			}
		}

		return step(models.OperationSave, models.TableMeds, s.repos.Meds.MarkSynced(ctx, q, ref.ID))
	})

	var se *stepError
	switch {
	case err == nil:
		logger.Debug("Synced SPL detail")
		s.metrics.DetailSynced(metrics.OutcomeOK)
		return true, nil
	case errors.As(err, &se) && !errors.Is(err, apperrors.ErrInvalidFilter) && ctx.Err() == nil:
		s.recordStepFailure(ctx, ref.ID, se)
		return false, nil
	default:
		return false, err
	}
}

func (s *DetailSynchronizer) recordStepFailure(ctx context.Context, splID int64, se *stepError) {
	table := se.table
	s.issues.RecordDataIssue(ctx, splID, se.op, &table, se.err.Error())
	s.metrics.DetailSynced(metrics.OutcomePersistFailed)
}

// resolveForm returns the id of the form named by detail, creating it when
// absent. An existing form keeps its name even when the document disagrees.
func (s *DetailSynchronizer) resolveForm(ctx context.Context, q database.Querier, logger *zap.Logger, detail *dailymed.SPLDetail) (*int64, error) {
	if detail.MedFormCode == nil && detail.MedFormCodeSystem == nil {
		logger.Debug("No med form in document")
		return nil, nil
	}

	existing, err := s.repos.Forms.FindByCode(ctx, q, detail.MedFormCode, detail.MedFormCodeSystem)
	switch {
	case err == nil:
		if !equalStrings(existing.Name, detail.MedFormName) {
			logger.Warn("MedForm name mismatch",
				zap.String("code", deref(detail.MedFormCode)),
				zap.String("code_system", deref(detail.MedFormCodeSystem)),
				zap.String("spl_form_name", deref(detail.MedFormName)),
				zap.String("db_form_name", deref(existing.Name)))
		}
		return &existing.ID, nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	id, err := s.repos.Forms.Upsert(ctx, q, &models.MedForm{
		Code:       detail.MedFormCode,
		CodeSystem: detail.MedFormCodeSystem,
		Name:       detail.MedFormName,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("Created med form", zap.Int64("med_form_id", id))
	return &id, nil
}

// resolveOrganization mirrors resolveForm for the labeler.
func (s *DetailSynchronizer) resolveOrganization(ctx context.Context, q database.Querier, logger *zap.Logger, detail *dailymed.SPLDetail) (*int64, error) {
	if detail.OrgIDExtension == nil && detail.OrgIDRoot == nil {
		logger.Debug("No organization id in document")
		return nil, nil
	}

	existing, err := s.repos.Orgs.FindByNIHID(ctx, q, detail.OrgIDExtension, detail.OrgIDRoot)
	switch {
	case err == nil:
		if !equalStrings(existing.Name, detail.OrgName) {
			logger.Warn("Organization name mismatch",
				zap.String("nih_id_extension", deref(detail.OrgIDExtension)),
				zap.String("nih_id_root", deref(detail.OrgIDRoot)),
				zap.String("spl_org_name", deref(detail.OrgName)),
				zap.String("db_org_name", deref(existing.Name)))
		}
		return &existing.ID, nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	id, err := s.repos.Orgs.Upsert(ctx, q, &models.Organization{
		Name:           detail.OrgName,
		NIHIDExtension: detail.OrgIDExtension,
		NIHIDRoot:      detail.OrgIDRoot,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("Created organization", zap.Int64("org_id", id))
	return &id, nil
}

// buildMed converts the document's med fields. The effective date must
// start with YYYYMMDD and the version number must be an integer; absent
// values stay nil and are rejected by the schema.
func buildMed(splID int64, detail *dailymed.SPLDetail) (*models.Med, error) {
	med := &models.Med{
		SPLID:       splID,
		Code:        detail.MedCode,
		CodeSystem:  detail.MedCodeSystem,
		Name:        detail.MedName,
		GenericName: detail.MedGenericName,
	}

	if v := detail.MedEffectiveDate; v != nil {
		if len(*v) < len(effectiveDateLayout) {
			return nil, fmt.Errorf("invalid effective date %q", *v)
		}
		t, err := time.Parse(effectiveDateLayout, (*v)[:len(effectiveDateLayout)])
		if err != nil {
			return nil, fmt.Errorf("invalid effective date %q", *v)
		}
		med.EffectiveDate = &t
	}

	if v := detail.MedVersionNumber; v != nil {
		n, err := strconv.Atoi(*v)
		if err != nil {
			return nil, fmt.Errorf("invalid version number %q", *v)
		}
		med.VersionNumber = &n
	}
	return med, nil
}

func formLockKey(d *dailymed.SPLDetail) string {
	if d.MedFormCode == nil && d.MedFormCodeSystem == nil {
		return ""
	}
	return lockKey(models.TableMedForms, d.MedFormCode, d.MedFormCodeSystem)
}

func orgLockKey(d *dailymed.SPLDetail) string {
	if d.OrgIDExtension == nil && d.OrgIDRoot == nil {
		return ""
	}
	return lockKey(models.TableOrganizations, d.OrgIDExtension, d.OrgIDRoot)
}

func lockKey(table string, parts ...*string) string {
	var sb strings.Builder
	sb.WriteString(table)
	for _, p := range parts {
		sb.WriteByte('|')
		if p == nil {
			sb.WriteString("\x00")
			continue
		}
		sb.WriteString(strconv.Quote(*p))
	}
	return sb.String()
}

func equalStrings(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
