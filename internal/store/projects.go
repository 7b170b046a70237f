package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Project approval states.
const (
	ProjectPendingApproval = "pending_approval"
	ProjectActive          = "active"
)

// Project is one comparable mining project row.
//
// Numeric fields use zero as "not reported"; they are stored as NULL so ad-hoc
// SQL over the database stays honest about missing data.
type Project struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	Company                string    `json:"company,omitempty"`
	Location               string    `json:"location,omitempty"`
	Country                string    `json:"country,omitempty"`
	Commodity              string    `json:"commodity,omitempty"`
	CommodityGroup         string    `json:"commodityGroup,omitempty"`
	ProjectStage           string    `json:"projectStage,omitempty"`
	DevelopmentStageDetail string    `json:"developmentStageDetail,omitempty"`
	DepositStyle           string    `json:"depositStyle,omitempty"`
	GeologyType            string    `json:"geologyType,omitempty"`
	TotalResourceMt        float64   `json:"totalResourceMt,omitempty"`
	Grade                  float64   `json:"grade,omitempty"`
	GradeUnit              string    `json:"gradeUnit,omitempty"`
	CapexMillionsUSD       float64   `json:"capexMillionsUsd,omitempty"`
	OpexPerTonneUSD        float64   `json:"opexPerTonneUsd,omitempty"`
	NPVMillionsUSD         float64   `json:"npvMillionsUsd,omitempty"`
	IRRPercent             float64   `json:"irrPercent,omitempty"`
	PaybackYears           float64   `json:"paybackYears,omitempty"`
	AnnualProduction       float64   `json:"annualProduction,omitempty"`
	ProductionUnit         string    `json:"productionUnit,omitempty"`
	MineLifeYears          float64   `json:"mineLifeYears,omitempty"`
	JurisdictionRiskBand   string    `json:"jurisdictionRiskBand,omitempty"`
	PoliticalRiskScore     float64   `json:"politicalRiskScore,omitempty"`
	OverallScore           float64   `json:"overallScore,omitempty"`
	DataSource             string    `json:"dataSource,omitempty"`
	DataQuality            string    `json:"dataQuality,omitempty"`
	ApprovedForDisplay     bool      `json:"approvedForDisplay"`
	Status                 string    `json:"status"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

const projectColumns = `id, name, company, location, country, commodity, commodity_group,
	project_stage, development_stage_detail, deposit_style, geology_type,
	total_resource_mt, grade, grade_unit, capex_millions_usd, opex_per_tonne_usd,
	npv_millions_usd, irr_percent, payback_years, annual_production, production_unit,
	mine_life_years, jurisdiction_risk_band, political_risk_score, overall_score,
	data_source, data_quality, approved_for_display, status, created_at, updated_at`

// InsertPendingProject stores a newly ingested project awaiting admin review.
func (s *Store) InsertPendingProject(ctx context.Context, p *Project) (int64, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.ApprovedForDisplay = false
	p.Status = ProjectPendingApproval

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO comparable_projects(
			name, company, location, country, commodity, commodity_group,
			project_stage, development_stage_detail, deposit_style, geology_type,
			total_resource_mt, grade, grade_unit, capex_millions_usd, opex_per_tonne_usd,
			npv_millions_usd, irr_percent, payback_years, annual_production, production_unit,
			mine_life_years, jurisdiction_risk_band, political_risk_score, overall_score,
			data_source, data_quality, approved_for_display, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.Name, nullStr(p.Company), nullStr(p.Location), nullStr(p.Country),
		nullStr(p.Commodity), nullStr(p.CommodityGroup),
		nullStr(p.ProjectStage), nullStr(p.DevelopmentStageDetail),
		nullStr(p.DepositStyle), nullStr(p.GeologyType),
		nullFloat(p.TotalResourceMt), nullFloat(p.Grade), nullStr(p.GradeUnit),
		nullFloat(p.CapexMillionsUSD), nullFloat(p.OpexPerTonneUSD),
		nullFloat(p.NPVMillionsUSD), nullFloat(p.IRRPercent), nullFloat(p.PaybackYears),
		nullFloat(p.AnnualProduction), nullStr(p.ProductionUnit), nullFloat(p.MineLifeYears),
		nullStr(p.JurisdictionRiskBand), nullFloat(p.PoliticalRiskScore), nullFloat(p.OverallScore),
		nullStr(p.DataSource), nullStr(p.DataQuality),
		p.ApprovedForDisplay, p.Status,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	id, _ := res.LastInsertId()
	p.ID = id
	return id, nil
}

// PendingProjects returns projects awaiting approval, newest first.
func (s *Store) PendingProjects(ctx context.Context, limit int) ([]Project, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+`
		 FROM comparable_projects
		 WHERE approved_for_display = 0 AND status = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		ProjectPendingApproval, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApproveProject marks the project approved and active.
// Returns false when no such project exists.
func (s *Store) ApproveProject(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE comparable_projects
		 SET approved_for_display = 1, status = ?, updated_at = ?
		 WHERE id = ?`,
		ProjectActive, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return false, fmt.Errorf("approve project: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RejectProject deletes the project. Returns false when no such project exists.
func (s *Store) RejectProject(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM comparable_projects WHERE id = ?`, id,
	)
	if err != nil {
		return false, fmt.Errorf("reject project: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (Project, error) {
	var p Project
	var (
		company, location, country, commodity, commodityGroup        sql.NullString
		stage, stageDetail, depositStyle, geologyType                sql.NullString
		gradeUnit, productionUnit, riskBand, dataSource, dataQuality sql.NullString
		resourceMt, grade, capex, opex, npv, irr, payback            sql.NullFloat64
		annualProd, mineLife, politicalRisk, overallScore            sql.NullFloat64
		createdStr, updatedStr                                       string
	)
	err := r.Scan(
		&p.ID, &p.Name, &company, &location, &country, &commodity, &commodityGroup,
		&stage, &stageDetail, &depositStyle, &geologyType,
		&resourceMt, &grade, &gradeUnit, &capex, &opex,
		&npv, &irr, &payback, &annualProd, &productionUnit,
		&mineLife, &riskBand, &politicalRisk, &overallScore,
		&dataSource, &dataQuality, &p.ApprovedForDisplay, &p.Status,
		&createdStr, &updatedStr,
	)
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	p.Company = company.String
	p.Location = location.String
	p.Country = country.String
	p.Commodity = commodity.String
	p.CommodityGroup = commodityGroup.String
	p.ProjectStage = stage.String
	p.DevelopmentStageDetail = stageDetail.String
	p.DepositStyle = depositStyle.String
	p.GeologyType = geologyType.String
	p.GradeUnit = gradeUnit.String
	p.ProductionUnit = productionUnit.String
	p.JurisdictionRiskBand = riskBand.String
	p.DataSource = dataSource.String
	p.DataQuality = dataQuality.String
	p.TotalResourceMt = resourceMt.Float64
	p.Grade = grade.Float64
	p.CapexMillionsUSD = capex.Float64
	p.OpexPerTonneUSD = opex.Float64
	p.NPVMillionsUSD = npv.Float64
	p.IRRPercent = irr.Float64
	p.PaybackYears = payback.Float64
	p.AnnualProduction = annualProd.Float64
	p.MineLifeYears = mineLife.Float64
	p.PoliticalRiskScore = politicalRisk.Float64
	p.OverallScore = overallScore.Float64
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return p, nil
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
