package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	allocation "energy-allocation/internal/allocation/domain"
	"energy-allocation/internal/audit"
	"energy-allocation/internal/auth"
	"energy-allocation/internal/observability/metrics"
	"energy-allocation/internal/reporting"
	sites "energy-allocation/internal/sites/domain"
)

var (
	// ErrCompanyRequired is returned when a request carries no company id.
	ErrCompanyRequired = errors.New("allocation service: company_id required")
	// ErrNoOverrides is returned for an override request without cells.
	ErrNoOverrides = errors.New("allocation service: no overrides supplied")
)

// Run is the outcome of one calculation or override pass.
type Run struct {
	ID           string
	CompanyID    string
	Month        allocation.MonthKey
	Trigger      string
	Result       allocation.Result
	Payloads     []Payload
	CalculatedAt time.Time
}

// Service orchestrates allocation runs: it fetches inputs concurrently, runs
// the calculator, and persists payloads.
type Service struct {
	repos   Repositories
	builder *PayloadBuilder
	auditor audit.Logger
	charges *reporting.OAChargeTable
	clock   Clock
	log     zerolog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log.With().Str("component", "allocation").Logger()
	}
}

// WithClock overrides the wall clock used for payload timestamps.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithAuditLogger records calculation runs and manual edits to an audit log.
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) {
		s.auditor = logger
	}
}

// WithOAChargeTable enables the OA charge report.
func WithOAChargeTable(table *reporting.OAChargeTable) Option {
	return func(s *Service) {
		s.charges = table
	}
}

// NewService constructs a service.
func NewService(repos Repositories, opts ...Option) (*Service, error) {
	switch {
	case repos.Units == nil:
		return nil, errors.New("allocation service: nil unit repo")
	case repos.Shareholdings == nil:
		return nil, errors.New("allocation service: nil shareholding repo")
	case repos.Banking == nil:
		return nil, errors.New("allocation service: nil banking repo")
	case repos.Allocations == nil:
		return nil, errors.New("allocation service: nil allocation repo")
	case repos.Overrides == nil:
		return nil, errors.New("allocation service: nil override repo")
	case repos.Sites == nil:
		return nil, errors.New("allocation service: nil site repo")
	}
	s := &Service{repos: repos, clock: systemClock{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.builder = NewPayloadBuilder(s.clock)
	return s, nil
}

// Calculate runs a full calculation for a generator company's month and
// stores the result.
func (s *Service) Calculate(ctx context.Context, companyID string, month allocation.MonthKey, access allocation.SiteAccess) (*Run, error) {
	return s.calculate(ctx, companyID, month, access, metrics.TriggerManual)
}

func (s *Service) calculate(ctx context.Context, companyID string, month allocation.MonthKey, access allocation.SiteAccess, trigger string) (run *Run, err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.ObserveRun(trigger, result, time.Since(start))
	}()

	if err := checkRequest(companyID, month); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, companyID, month)
	if err != nil {
		return nil, err
	}
	stored, err := s.repos.Allocations.ListPayloads(ctx, companyID, month)
	if err != nil {
		return nil, fmt.Errorf("allocation service: list allocations: %w", err)
	}
	snap.input.Locked = lockedRows(stored, access)

	result := allocation.NewCalculator(access).Calculate(snap.input)
	result.Warnings = append(snap.warnings, result.Warnings...)

	payloads, err := s.persist(ctx, companyID, month, result, snap, access, stored)
	if err != nil {
		return nil, err
	}
	run = s.newRun(companyID, month, trigger, result, payloads)
	s.recordWarnings(result.Warnings)
	s.auditRun(ctx, run, audit.ActionAllocationCalculate, map[string]any{
		"rows":     len(result.Allocations),
		"warnings": len(result.Warnings),
	})
	s.log.Info().
		Str("run_id", run.ID).
		Str("company_id", companyID).
		Str("month", month.String()).
		Str("trigger", trigger).
		Int("rows", len(result.Allocations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", time.Since(start)).
		Msg("allocation calculated")
	return run, nil
}

// ApplyOverrides applies manual edits on top of the stored result, recomputing
// only the edited pairs and their production sites' remainders, and stores
// the merged override map.
func (s *Service) ApplyOverrides(ctx context.Context, companyID string, month allocation.MonthKey, edits allocation.ManualAllocations, access allocation.SiteAccess) (run *Run, err error) {
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.ObserveOverride(result, len(edits))
	}()

	if err := checkRequest(companyID, month); err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return nil, ErrNoOverrides
	}
	snap, err := s.load(ctx, companyID, month)
	if err != nil {
		return nil, err
	}
	stored, err := s.repos.Allocations.ListPayloads(ctx, companyID, month)
	if err != nil {
		return nil, fmt.Errorf("allocation service: list allocations: %w", err)
	}
	snap.input.Locked = lockedRows(stored, access)

	calc := allocation.NewCalculator(access)
	previous := resultFromPayloads(month, stored, snap.input)
	if len(stored) == 0 {
		previous = calc.Calculate(snap.input)
	}
	next, merged := calc.ApplyOverrides(previous, snap.input, edits)
	next.Warnings = append(snap.warnings, next.Warnings...)

	payloads, err := s.persist(ctx, companyID, month, next, snap, access, stored)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Overrides.SaveOverrides(ctx, companyID, month, merged); err != nil {
		return nil, fmt.Errorf("allocation service: save overrides: %w", err)
	}

	run = s.newRun(companyID, month, metrics.TriggerManual, next, payloads)
	s.recordWarnings(next.Warnings)
	cells := make(map[string]float64, len(edits))
	for key, value := range edits {
		cells[key.String()] = value
	}
	s.auditRun(ctx, run, audit.ActionAllocationOverride, map[string]any{"cells": cells})
	s.log.Info().
		Str("run_id", run.ID).
		Str("company_id", companyID).
		Str("month", month.String()).
		Int("cells", len(edits)).
		Msg("allocation overrides applied")
	return run, nil
}

// Validate re-checks the stored rows of a month against current inputs.
func (s *Service) Validate(ctx context.Context, companyID string, month allocation.MonthKey) ([]allocation.Violation, error) {
	if err := checkRequest(companyID, month); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, companyID, month)
	if err != nil {
		return nil, err
	}
	stored, err := s.repos.Allocations.ListPayloads(ctx, companyID, month)
	if err != nil {
		return nil, fmt.Errorf("allocation service: list allocations: %w", err)
	}

	result := resultFromPayloads(month, stored, snap.input)
	violations := allocation.Validate(result, snap.input, roundingTolerance(stored))
	counts := make(map[string]int)
	for _, v := range violations {
		counts[v.Severity]++
	}
	for severity, n := range counts {
		metrics.AddViolations(severity, n)
	}
	return violations, nil
}

// List returns the stored payloads of a month in calculation order.
func (s *Service) List(ctx context.Context, companyID string, month allocation.MonthKey) ([]Payload, error) {
	if err := checkRequest(companyID, month); err != nil {
		return nil, err
	}
	stored, err := s.repos.Allocations.ListPayloads(ctx, companyID, month)
	if err != nil {
		return nil, fmt.Errorf("allocation service: list allocations: %w", err)
	}
	units, err := s.repos.Units.ListProductionUnits(ctx, companyID, month)
	if err != nil {
		s.log.Warn().Err(err).Str("company_id", companyID).Msg("production units unavailable, listing by site id")
		units = nil
	}
	return orderPayloads(stored, units), nil
}

// PreviewRequest carries loosely typed records for a calculation that is not stored.
type PreviewRequest struct {
	Month             string
	Year              int
	ProductionUnits   []allocation.Record
	ConsumptionUnits  []allocation.Record
	BankingUnits      []allocation.Record
	Shareholdings     []allocation.Record
	ManualAllocations allocation.Record
}

// Preview normalizes raw records and runs the calculator without persistence.
func (s *Service) Preview(req PreviewRequest, access allocation.SiteAccess) (allocation.Result, error) {
	month, err := allocation.ResolveMonthKey(req.Month, req.Year)
	if err != nil {
		return allocation.Result{}, err
	}
	in, rejected := allocation.InputFromRecords(month, req.ProductionUnits, req.ConsumptionUnits, req.BankingUnits, req.Shareholdings, req.ManualAllocations)
	result := allocation.NewCalculator(access).Calculate(in)

	warnings := make([]allocation.Warning, 0, len(rejected)+len(result.Warnings))
	for _, key := range rejected {
		warnings = append(warnings, allocation.Warning{
			Code:    allocation.WarnOverrideMalformed,
			Message: fmt.Sprintf("override key %q is not productionSiteId_consumptionSiteId_period", key),
		})
	}
	result.Warnings = append(warnings, result.Warnings...)
	s.recordWarnings(result.Warnings)
	return result, nil
}

type snapshot struct {
	input       allocation.Input
	dir         sites.Directory
	warnings    []allocation.Warning
	fetchFailed bool
}

// load fetches a month's inputs. Unit, banking, shareholding and override
// failures degrade to empty data plus a warning; a failed site directory
// fetch aborts because payloads cannot be keyed without it.
func (s *Service) load(ctx context.Context, companyID string, month allocation.MonthKey) (snapshot, error) {
	var (
		mu            sync.Mutex
		snap          = snapshot{input: allocation.Input{Month: month}}
		production    []allocation.ProductionUnit
		shareholdings []allocation.Shareholding
		banking       []allocation.BankingUnit
		overrides     allocation.ManualAllocations
		prodSites     []sites.ProductionSite
		consumption   []allocation.ConsumptionUnit
		consSites     []sites.ConsumptionSite
	)
	degrade := func(source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		snap.fetchFailed = true
		snap.warnings = append(snap.warnings, allocation.Warning{
			Code:    allocation.WarnFetchFailed,
			Message: source + " unavailable: " + err.Error(),
		})
		s.log.Warn().Err(err).Str("source", source).Str("company_id", companyID).Str("month", month.String()).Msg("fetch failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		units, err := s.repos.Units.ListProductionUnits(gctx, companyID, month)
		if err != nil {
			degrade("production units", err)
			return nil
		}
		production = units
		return nil
	})
	g.Go(func() error {
		list, err := s.repos.Shareholdings.ListShareholdings(gctx, companyID)
		if err != nil {
			degrade("shareholdings", err)
			return nil
		}
		shareholdings = list
		return nil
	})
	g.Go(func() error {
		units, err := s.repos.Banking.ListBankingUnits(gctx, companyID, month.FinancialYear())
		if err != nil {
			degrade("banking units", err)
			return nil
		}
		banking = units
		return nil
	})
	g.Go(func() error {
		manual, err := s.repos.Overrides.LoadOverrides(gctx, companyID, month)
		if err != nil {
			degrade("manual overrides", err)
			return nil
		}
		overrides = manual
		return nil
	})
	g.Go(func() error {
		list, err := s.repos.Sites.ListProductionSites(gctx, companyID)
		if err != nil {
			return fmt.Errorf("allocation service: production sites: %w", err)
		}
		prodSites = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}

	holders := allocation.ResolveShareholders(companyID, shareholdings)
	companies := make([]string, 0, len(holders))
	for _, h := range holders {
		companies = append(companies, h.ShareholderCompanyID)
	}
	if len(companies) > 0 {
		g, gctx = errgroup.WithContext(ctx)
		g.Go(func() error {
			units, err := s.repos.Units.ListConsumptionUnits(gctx, companies, month)
			if err != nil {
				degrade("consumption units", err)
				return nil
			}
			consumption = units
			return nil
		})
		g.Go(func() error {
			for _, id := range companies {
				list, err := s.repos.Sites.ListConsumptionSites(gctx, id)
				if err != nil {
					degrade("consumption sites", err)
					return nil
				}
				consSites = append(consSites, list...)
			}
			return nil
		})
		_ = g.Wait()
	}

	snap.dir = sites.NewDirectory(prodSites, consSites)
	snap.input.ProductionUnits = enrichProduction(production, snap.dir)
	snap.input.ConsumptionUnits = consumption
	snap.input.BankingUnits = banking
	snap.input.Shareholdings = shareholdings
	snap.input.ManualAllocations = overrides
	return snap, nil
}

// enrichProduction fills names, owners and commissioning dates missing on
// units from the site directory.
func enrichProduction(units []allocation.ProductionUnit, dir sites.Directory) []allocation.ProductionUnit {
	out := make([]allocation.ProductionUnit, 0, len(units))
	for _, pu := range units {
		if site, ok := dir.ProductionSite(pu.ProductionSiteID); ok {
			if pu.SiteName == "" {
				pu.SiteName = site.Name
			}
			if pu.CompanyID == "" {
				pu.CompanyID = site.CompanyID
			}
			if pu.Type == "" {
				pu.Type = site.Type
			}
			if pu.CommissionDate.IsZero() {
				pu.CommissionDate = site.CommissionDate
			}
		}
		out = append(out, pu)
	}
	return out
}

// persist builds payloads, carries createdAt and version forward from the
// stored rows, bumps the version of changed rows and prunes rows the pass no
// longer produces. BANKING rows are mirrored into banking units and units of
// sites that no longer bank are removed. Pruning and banking cleanup are
// skipped after a degraded fetch and for sites the caller cannot see.
func (s *Service) persist(ctx context.Context, companyID string, month allocation.MonthKey, result allocation.Result, snap snapshot, access allocation.SiteAccess, existing []Payload) ([]Payload, error) {
	if access == nil {
		access = allocation.AllowAllSites{}
	}
	prior := make(map[Key]Payload, len(existing))
	for _, p := range existing {
		prior[p.Key()] = p
	}

	pc := PayloadContext{CompanyID: companyID, Sites: snap.dir}
	payloads := make([]Payload, 0, len(result.Allocations))
	for _, row := range result.Allocations {
		payload, err := s.builder.Build(row, row.Type, month.String(), 0, pc)
		if err != nil {
			metrics.IncPayloadFailure(failureReason(err))
			return nil, err
		}
		if old, ok := prior[payload.Key()]; ok {
			payload.CreatedAt = old.CreatedAt
			payload.Version = old.Version
			if old.Allocated != payload.Allocated || old.Manual != payload.Manual {
				payload.Version = old.Version + 1
			}
			delete(prior, payload.Key())
		}
		payloads = append(payloads, payload)
	}

	if err := s.repos.Allocations.SavePayloads(ctx, payloads); err != nil {
		return nil, fmt.Errorf("allocation service: save allocations: %w", err)
	}
	if !snap.fetchFailed {
		if stale := staleKeys(prior, access); len(stale) > 0 {
			if err := s.repos.Allocations.DeletePayloads(ctx, stale); err != nil {
				return nil, fmt.Errorf("allocation service: prune allocations: %w", err)
			}
		}
	}

	banked := make(map[string]struct{})
	for _, p := range payloads {
		if p.Type != allocation.TypeBanking {
			continue
		}
		banked[p.ProductionSiteID] = struct{}{}
		unit := allocation.BankingUnit{
			ProductionSiteID: p.ProductionSiteID,
			CompanyID:        p.CompanyID,
			SiteName:         p.SiteName,
			Month:            p.Month,
			Units:            p.Allocated,
		}
		if err := s.repos.Banking.SaveBankingUnit(ctx, unit); err != nil {
			return nil, fmt.Errorf("allocation service: save banking: %w", err)
		}
	}
	if snap.fetchFailed {
		return payloads, nil
	}
	for _, site := range unbankedSites(companyID, snap.input.ProductionUnits, existing, banked, access) {
		if err := s.repos.Banking.DeleteBankingUnit(ctx, site.CompanyID, site.ProductionSiteID, month); err != nil {
			return nil, fmt.Errorf("allocation service: delete banking: %w", err)
		}
	}
	return payloads, nil
}

type siteRef struct {
	CompanyID        string
	ProductionSiteID string
}

// unbankedSites lists the visible production sites of the month, from units
// or stored rows, that the pass did not bank.
func unbankedSites(companyID string, units []allocation.ProductionUnit, existing []Payload, banked map[string]struct{}, access allocation.SiteAccess) []siteRef {
	seen := make(map[siteRef]struct{})
	add := func(company, siteID string) {
		if siteID == "" {
			return
		}
		if _, ok := banked[siteID]; ok {
			return
		}
		if !access.HasSiteAccess(siteID, allocation.SiteTypeProduction) {
			return
		}
		if company == "" {
			company = companyID
		}
		seen[siteRef{CompanyID: company, ProductionSiteID: siteID}] = struct{}{}
	}
	for _, pu := range units {
		add(pu.CompanyID, pu.ProductionSiteID)
	}
	for _, p := range existing {
		add(p.CompanyID, p.ProductionSiteID)
	}
	out := make([]siteRef, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductionSiteID != out[j].ProductionSiteID {
			return out[i].ProductionSiteID < out[j].ProductionSiteID
		}
		return out[i].CompanyID < out[j].CompanyID
	})
	return out
}

// visibleTo reports whether access covers both sites of a stored row.
func visibleTo(p Payload, access allocation.SiteAccess) bool {
	if !access.HasSiteAccess(p.ProductionSiteID, allocation.SiteTypeProduction) {
		return false
	}
	return p.ConsumptionSiteID == "" || access.HasSiteAccess(p.ConsumptionSiteID, allocation.SiteTypeConsumption)
}

// lockedRows returns the stored ALLOCATION rows access does not cover. A
// restricted pass keeps them and must not hand their units out again.
func lockedRows(stored []Payload, access allocation.SiteAccess) []allocation.Allocation {
	if access == nil {
		return nil
	}
	var out []allocation.Allocation
	for _, p := range stored {
		if p.Type == allocation.TypeAllocation && !visibleTo(p, access) {
			out = append(out, p.Allocation())
		}
	}
	return out
}

func staleKeys(prior map[Key]Payload, access allocation.SiteAccess) []Key {
	keys := make([]Key, 0, len(prior))
	for key, p := range prior {
		if !visibleTo(p, access) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PK != keys[j].PK {
			return keys[i].PK < keys[j].PK
		}
		return keys[i].Type < keys[j].Type
	})
	return keys
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, allocation.ErrProductionSiteNotFound):
		return "site_not_found"
	case errors.Is(err, allocation.ErrMissingCompanyID):
		return "missing_company_id"
	case errors.Is(err, allocation.ErrInvalidMonth):
		return "invalid_month"
	default:
		return "invalid_row"
	}
}

func (s *Service) newRun(companyID string, month allocation.MonthKey, trigger string, result allocation.Result, payloads []Payload) *Run {
	return &Run{
		ID:           uuid.NewString(),
		CompanyID:    companyID,
		Month:        month,
		Trigger:      trigger,
		Result:       result,
		Payloads:     payloads,
		CalculatedAt: s.clock.Now().UTC(),
	}
}

func (s *Service) recordWarnings(warnings []allocation.Warning) {
	for _, w := range warnings {
		metrics.IncWarning(w.Code)
	}
}

func (s *Service) auditRun(ctx context.Context, run *Run, action string, details map[string]any) {
	if s.auditor == nil {
		return
	}
	details["run_id"] = run.ID
	details["trigger"] = run.Trigger
	metadata, err := json.Marshal(details)
	if err != nil {
		s.log.Warn().Err(err).Msg("audit metadata encode failed")
		return
	}
	actor := auth.SubjectFromContext(ctx)
	if actor == "" && run.Trigger == metrics.TriggerSchedule {
		actor = "scheduler"
	}
	entry := audit.Entry{
		CompanyID:    run.CompanyID,
		Actor:        actor,
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: "allocation",
		ResourceID:   run.CompanyID + "_" + run.Month.String(),
		Month:        run.Month.String(),
		Metadata:     metadata,
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("run_id", run.ID).Msg("audit log failed")
	}
}

func checkRequest(companyID string, month allocation.MonthKey) error {
	if companyID == "" {
		return ErrCompanyRequired
	}
	if !month.Valid() {
		return allocation.ErrInvalidMonth
	}
	return nil
}

// roundingTolerance allows half a unit of rounding drift per stored row of
// the busiest production site.
func roundingTolerance(payloads []Payload) float64 {
	perSite := make(map[string]int)
	most := 0
	for _, p := range payloads {
		perSite[p.ProductionSiteID]++
		if perSite[p.ProductionSiteID] > most {
			most = perSite[p.ProductionSiteID]
		}
	}
	return 0.5*float64(most) + allocation.Tolerance
}

// resultFromPayloads rebuilds a result from stored rows in calculation order.
func resultFromPayloads(month allocation.MonthKey, payloads []Payload, in allocation.Input) allocation.Result {
	ordered := orderPayloads(payloads, in.ProductionUnits)
	result := allocation.Result{Month: month, Allocations: make([]allocation.Allocation, 0, len(ordered))}
	for _, p := range ordered {
		result.Allocations = append(result.Allocations, p.Allocation())
	}
	result.Balances = allocation.BankingBalances(result.Allocations, in.BankingUnits, month)
	return result
}

// orderPayloads sorts rows by production priority, then ALLOCATION rows by
// consumption site, then the remainder row. Sites without units sort last by id.
func orderPayloads(payloads []Payload, units []allocation.ProductionUnit) []Payload {
	ordered := append([]allocation.ProductionUnit(nil), units...)
	allocation.SortByPriority(ordered)
	rank := make(map[string]int, len(ordered))
	for i, pu := range ordered {
		if _, ok := rank[pu.ProductionSiteID]; !ok {
			rank[pu.ProductionSiteID] = i
		}
	}

	out := append([]Payload(nil), payloads...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ProductionSiteID != b.ProductionSiteID {
			ra, okA := rank[a.ProductionSiteID]
			rb, okB := rank[b.ProductionSiteID]
			switch {
			case okA && okB:
				return ra < rb
			case okA != okB:
				return okA
			}
			return a.ProductionSiteID < b.ProductionSiteID
		}
		if a.Type.IsRemainder() != b.Type.IsRemainder() {
			return !a.Type.IsRemainder()
		}
		return a.ConsumptionSiteID < b.ConsumptionSiteID
	})
	return out
}
