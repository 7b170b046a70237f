// Package ingest implements the comparables ingestion service: it pulls a
// batch of candidate projects from the research source and stages them in the
// database as pending admin approval, recording a job row per run.
package ingest

import (
	"context"
	"time"

	"compdb/internal/source"
	"compdb/internal/store"
	logx "compdb/pkg/logx"
)

// Result is the outcome of one ingestion cycle.
type Result struct {
	Success    bool   `json:"success"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
	JobID      int64  `json:"jobId"`
}

// Fetcher produces one batch of candidate projects.
type Fetcher interface {
	FetchCandidates(ctx context.Context) ([]source.Candidate, error)
}

// Store is the persistence surface the service needs.
type Store interface {
	CreateIngestionJob(ctx context.Context) (int64, error)
	FinishIngestionJob(ctx context.Context, id int64, status string, total, successful, failed int, errorLog string) error
	AppendIngestionRecord(ctx context.Context, r store.IngestionRecord) error
	InsertPendingProject(ctx context.Context, p *store.Project) (int64, error)
	PendingProjects(ctx context.Context, limit int) ([]store.Project, error)
	ApproveProject(ctx context.Context, id int64) (bool, error)
	RejectProject(ctx context.Context, id int64) (bool, error)
	IngestionHistory(ctx context.Context, limit int) ([]store.IngestionJob, error)
}

// Notifier receives the outcome of finished ingestion runs. Implementations
// must not block for long; delivery is best-effort.
type Notifier interface {
	IngestionFinished(ctx context.Context, res Result)
}

type Service struct {
	store    Store
	fetcher  Fetcher
	notifier Notifier // optional
	log      logx.Logger
}

func NewService(st Store, f Fetcher, log logx.Logger) *Service {
	return &Service{store: st, fetcher: f, log: log}
}

// SetNotifier attaches an optional outcome notifier. Must be called before
// the service is used.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// RunWeeklyIngestion performs one full ingestion cycle.
//
// Failures of the research fetch or of individual inserts are reported in the
// Result (Success=false or Failed>0) and recorded on the job row; the returned
// error is reserved for faults that prevent the cycle from being recorded at
// all (e.g. the job row cannot be created).
func (s *Service) RunWeeklyIngestion(ctx context.Context) (*Result, error) {
	jobID, err := s.store.CreateIngestionJob(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := s.runJob(ctx, jobID)
	res.JobID = jobID

	status := store.JobCompleted
	if !res.Success {
		status = store.JobFailed
	}
	if err := s.store.FinishIngestionJob(ctx, jobID, status, res.Total, res.Successful, res.Failed, res.Error); err != nil {
		s.log.Error("failed to finalize ingestion job",
			logx.Int64("job_id", jobID), logx.Err(err))
	}

	s.log.Info("ingestion cycle finished",
		logx.Int64("job_id", jobID),
		logx.Bool("success", res.Success),
		logx.Int("total", res.Total),
		logx.Int("successful", res.Successful),
		logx.Int("failed", res.Failed),
		logx.Duration("took", time.Since(start)))

	if s.notifier != nil {
		s.notifier.IngestionFinished(ctx, *res)
	}
	return res, nil
}

func (s *Service) runJob(ctx context.Context, jobID int64) *Result {
	candidates, err := s.fetcher.FetchCandidates(ctx)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	res := &Result{Success: true, Total: len(candidates)}
	for _, c := range candidates {
		name := c.Name
		if name == "" {
			name = "Unknown Project"
		}
		rec := store.IngestionRecord{JobID: jobID, ProjectName: name, Status: "success"}

		p := candidateToProject(c)
		if _, err := s.store.InsertPendingProject(ctx, p); err != nil {
			res.Failed++
			rec.Status = "failed"
			rec.ErrorMessage = err.Error()
			s.log.Warn("candidate insert failed",
				logx.Int64("job_id", jobID), logx.String("project", name), logx.Err(err))
		} else {
			res.Successful++
		}

		if err := s.store.AppendIngestionRecord(ctx, rec); err != nil {
			s.log.Warn("ingestion record append failed",
				logx.Int64("job_id", jobID), logx.Err(err))
		}
	}
	return res
}

// PendingProjects lists projects awaiting admin review.
func (s *Service) PendingProjects(ctx context.Context, limit int) ([]store.Project, error) {
	return s.store.PendingProjects(ctx, limit)
}

// ApproveProject marks a pending project as approved for display.
func (s *Service) ApproveProject(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.ApproveProject(ctx, id)
	if err == nil && ok {
		s.log.Info("project approved", logx.Int64("project_id", id))
	}
	return ok, err
}

// RejectProject deletes a pending project.
func (s *Service) RejectProject(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.RejectProject(ctx, id)
	if err == nil && ok {
		s.log.Info("project rejected", logx.Int64("project_id", id))
	}
	return ok, err
}

// IngestionHistory lists recent ingestion jobs.
func (s *Service) IngestionHistory(ctx context.Context, limit int) ([]store.IngestionJob, error) {
	return s.store.IngestionHistory(ctx, limit)
}

func candidateToProject(c source.Candidate) *store.Project {
	name := c.Name
	if name == "" {
		name = "Unknown Project"
	}
	dataSource := c.DataSource
	if dataSource == "" {
		dataSource = "AI Research"
	}
	return &store.Project{
		Name:                   name,
		Company:                c.Company,
		Location:               c.Location,
		Country:                c.Country,
		Commodity:              c.Commodity,
		CommodityGroup:         c.CommodityGroup,
		ProjectStage:           c.ProjectStage,
		DevelopmentStageDetail: c.DevelopmentStageDetail,
		DepositStyle:           c.DepositStyle,
		GeologyType:            c.GeologyType,
		TotalResourceMt:        c.TotalResourceMt,
		Grade:                  c.Grade,
		GradeUnit:              c.GradeUnit,
		CapexMillionsUSD:       c.CapexMillionsUSD,
		OpexPerTonneUSD:        c.OpexPerTonneUSD,
		NPVMillionsUSD:         c.NPVMillionsUSD,
		IRRPercent:             c.IRRPercent,
		PaybackYears:           c.PaybackYears,
		AnnualProduction:       c.AnnualProduction,
		ProductionUnit:         c.ProductionUnit,
		MineLifeYears:          c.MineLifeYears,
		JurisdictionRiskBand:   c.JurisdictionRiskBand,
		PoliticalRiskScore:     c.PoliticalRiskScore,
		OverallScore:           c.OverallScore,
		DataSource:             dataSource,
		DataQuality:            "medium",
	}
}
