package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/folio-ledger/apiserver/internal/storage"
	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

// AuditRepository defines persistence operations for the audit feed.
type AuditRepository interface {
	Append(ctx context.Context, record types.AuditRecord) (types.AuditRecord, error)
	List(ctx context.Context, filter types.AuditFilter) ([]types.AuditRecord, error)
}

// Publisher fans stored records out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Counter is incremented on every failed fan-out.
type Counter interface {
	Inc()
}

// Auditor records privileged actions.
type Auditor interface {
	Record(ctx context.Context, record types.AuditRecord) (types.AuditRecord, error)
}

type AuditOptions struct {
	Publisher       Publisher
	Channel         string
	Exports         storage.ObjectStorage
	PublishFailures Counter
	StoreTimeout    time.Duration
}

// AuditService appends to the feed, fans records out and exports snapshots.
type AuditService struct {
	repo     AuditRepository
	pub      Publisher
	channel  string
	exports  storage.ObjectStorage
	failures Counter
	logger   logrus.FieldLogger
	timeout  deadline
}

func NewAuditService(repo AuditRepository, logger logrus.FieldLogger, opts AuditOptions) *AuditService {
	return &AuditService{
		repo:     repo,
		pub:      opts.Publisher,
		channel:  opts.Channel,
		exports:  opts.Exports,
		failures: opts.PublishFailures,
		logger:   logger.WithField("component", "audit"),
		timeout:  deadline(opts.StoreTimeout),
	}
}

// Record stores the record, then publishes it. A failed publish is logged
// and counted; the stored record is still returned.
func (s *AuditService) Record(ctx context.Context, record types.AuditRecord) (types.AuditRecord, error) {
	wctx, cancel := s.timeout.write(ctx)
	defer cancel()

	stored, err := s.repo.Append(wctx, record)
	if err != nil {
		return types.AuditRecord{}, fmt.Errorf("%w: append audit record: %v", ErrUpstream, err)
	}
	s.publish(wctx, stored)
	return stored, nil
}

func (s *AuditService) publish(ctx context.Context, record types.AuditRecord) {
	if s.pub == nil || s.channel == "" {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		s.publishFailed(record, err)
		return
	}
	attrs := map[string]string{
		"content-type": "application/json",
		"table":        record.TableName,
		"action":       record.Action,
	}
	if _, err := s.pub.Publish(ctx, s.channel, data, attrs); err != nil {
		s.publishFailed(record, err)
	}
}

func (s *AuditService) publishFailed(record types.AuditRecord, err error) {
	if s.failures != nil {
		s.failures.Inc()
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"audit_id": record.ID,
		"action":   record.Action,
	}).Warn("audit publish failed")
}

// List returns records newest first with the limit clamped to [1, 1000].
func (s *AuditService) List(ctx context.Context, filter types.AuditFilter) ([]types.AuditRecord, error) {
	rctx, cancel := s.timeout.read(ctx)
	defer cancel()

	limit := store.ClampAuditLimit(filter.Limit)
	filter.Limit = &limit
	return s.repo.List(rctx, filter)
}

type ExportResult struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Export writes the filtered feed as newline-delimited JSON to object storage.
func (s *AuditService) Export(ctx context.Context, filter types.AuditFilter) (ExportResult, error) {
	if s.exports == nil {
		return ExportResult{}, ErrExportUnavailable
	}

	records, err := s.List(ctx, filter)
	if err != nil {
		return ExportResult{}, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return ExportResult{}, fmt.Errorf("encode audit record: %w", err)
		}
	}

	key := exportKey(store.NewID())
	if err := s.exports.Put(ctx, key, &buf, int64(buf.Len()), "application/x-ndjson"); err != nil {
		return ExportResult{}, fmt.Errorf("%w: upload export: %v", ErrUpstream, err)
	}
	return ExportResult{Key: key, Count: len(records)}, nil
}

// OpenExport streams a previously written export back. The caller closes it.
func (s *AuditService) OpenExport(ctx context.Context, id string) (io.ReadCloser, error) {
	if s.exports == nil {
		return nil, ErrExportUnavailable
	}
	if _, err := ulid.ParseStrict(id); err != nil {
		return nil, invalid("invalid export id")
	}

	r, err := s.exports.Get(ctx, exportKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: download export: %v", ErrUpstream, err)
	}
	return r, nil
}

func exportKey(id string) string {
	return "audit/" + id + ".ndjson"
}

// audit records a privileged action on behalf of a service. Failures are
// logged; the mutation they describe has already happened.
func audit(ctx context.Context, auditor Auditor, logger logrus.FieldLogger, record types.AuditRecord) {
	if auditor == nil {
		return
	}
	if _, err := auditor.Record(ctx, record); err != nil {
		logger.WithError(err).WithField("action", record.Action).Error("failed to append audit record")
	}
}

func strPtr(s string) *string {
	return &s
}
