package ledger

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

// MaxExportRows caps the number of records rendered by one export.
const MaxExportRows = 10000

var exportHeader = []string{
	"Promoted At", "Admission No", "Student", "From", "To", "Performed By",
}

type (
	// Repository is append-only: records are never updated nor deleted.
	// Queries return records in insertion order (Seq ascending).
	Repository interface {
		AppendPromotion(ctx context.Context, r PromotionRecord, exec ...core.DBExecutor) (PromotionRecord, error)
		QueryPromotions(ctx context.Context, filter Filter, limit, offset int, exec ...core.DBExecutor) ([]PromotionRecord, error)
		CountPromotions(ctx context.Context, filter Filter, exec ...core.DBExecutor) (int, error)

		AppendRollover(ctx context.Context, r RolloverRecord, exec ...core.DBExecutor) (RolloverRecord, error)
		QueryRollovers(ctx context.Context, sourceSessionID string, limit, offset int, exec ...core.DBExecutor) ([]RolloverRecord, error)
		CountRollovers(ctx context.Context, sourceSessionID string, exec ...core.DBExecutor) (int, error)
	}

	// Service is the History/Audit Ledger. Its only write paths are the Record* methods,
	// called from inside promotion and rollover commits.
	Service struct {
		repo        Repository
		exportLimit int
	}

	// ExportResult tells how many of the matching records an export rendered.
	ExportResult struct {
		Written int
		Total   int
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo, exportLimit: MaxExportRows}
}

func (r ExportResult) Truncated() bool { return r.Written < r.Total }

func (svc *Service) RecordPromotion(ctx context.Context, r PromotionRecord, exec core.DBExecutor) (PromotionRecord, error) {
	r.ID = uuid.New().String()
	if r.PromotedAt.IsZero() {
		r.PromotedAt = core.NowFunc()
	}
	rec, err := svc.repo.AppendPromotion(ctx, r, exec)
	if err != nil {
		return PromotionRecord{}, errors.Wrap(err, "appending promotion record")
	}
	return rec, nil
}

func (svc *Service) RecordRollover(ctx context.Context, r RolloverRecord, exec core.DBExecutor) (RolloverRecord, error) {
	r.ID = uuid.New().String()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = core.NowFunc()
	}
	rec, err := svc.repo.AppendRollover(ctx, r, exec)
	if err != nil {
		return RolloverRecord{}, errors.Wrap(err, "appending rollover record")
	}
	return rec, nil
}

func (svc *Service) History(ctx context.Context, filter Filter, pag core.Pagination) (PromotionPage, error) {
	filter.Clean()
	pag.Clean()

	total, err := svc.repo.CountPromotions(ctx, filter)
	if err != nil {
		return PromotionPage{}, errors.Wrap(err, "counting promotion records")
	}
	items, err := svc.repo.QueryPromotions(ctx, filter, pag.Limit(), pag.Offset())
	if err != nil {
		return PromotionPage{}, errors.Wrap(err, "querying promotion records")
	}
	if items == nil {
		items = []PromotionRecord{}
	}
	return PromotionPage{Items: items, Total: total, Page: pag.Page, PageSize: pag.PageSize}, nil
}

func (svc *Service) Rollovers(ctx context.Context, sourceSessionID string, pag core.Pagination) (RolloverPage, error) {
	sourceSessionID = core.CleanString(sourceSessionID)
	pag.Clean()

	total, err := svc.repo.CountRollovers(ctx, sourceSessionID)
	if err != nil {
		return RolloverPage{}, errors.Wrap(err, "counting rollover records")
	}
	items, err := svc.repo.QueryRollovers(ctx, sourceSessionID, pag.Limit(), pag.Offset())
	if err != nil {
		return RolloverPage{}, errors.Wrap(err, "querying rollover records")
	}
	if items == nil {
		items = []RolloverRecord{}
	}
	return RolloverPage{Items: items, Total: total, Page: pag.Page, PageSize: pag.PageSize}, nil
}

// Export renders the records matching filter, up to MaxExportRows. A truncated export ends with a note row
// giving the number of records left out.
func (svc *Service) Export(ctx context.Context, filter Filter, exporter core.TableExporter, w io.Writer) (ExportResult, error) {
	filter.Clean()

	records, err := svc.repo.QueryPromotions(ctx, filter, svc.exportLimit, 0)
	if err != nil {
		return ExportResult{}, errors.Wrap(err, "querying promotion records")
	}
	res := ExportResult{Written: len(records), Total: len(records)}
	if len(records) == svc.exportLimit {
		if res.Total, err = svc.repo.CountPromotions(ctx, filter); err != nil {
			return ExportResult{}, errors.Wrap(err, "counting promotion records")
		}
	}

	table := core.Table{
		Title:  "Promotion history",
		Header: exportHeader,
		Rows:   make([][]string, 0, len(records)+1),
	}
	for _, r := range records {
		table.Rows = append(table.Rows, []string{
			r.PromotedAt.UTC().Format("2006-01-02 15:04"),
			r.AdmissionNo,
			r.StudentName,
			r.FromLabel,
			r.ToLabel,
			r.PerformedBy,
		})
	}
	if res.Truncated() {
		note := make([]string, len(exportHeader))
		note[0] = fmt.Sprintf("Truncated: %d of %d record(s) exported; narrow the filters", res.Written, res.Total)
		table.Rows = append(table.Rows, note)
	}
	if err = exporter.Export(w, table); err != nil {
		return ExportResult{}, errors.Wrap(err, "exporting promotion records")
	}
	return res, nil
}
