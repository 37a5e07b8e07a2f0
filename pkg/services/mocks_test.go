package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ekaya-inc/medsearch/pkg/apperrors"
	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/models"
	"github.com/ekaya-inc/medsearch/pkg/repositories"
)

// fakeTransactor runs units without a database. The mock repositories
// ignore the querier they are handed.
type fakeTransactor struct {
	mu       sync.Mutex
	beginErr error
	units    int
	failed   int
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn func(q database.Querier) error) error {
	f.mu.Lock()
	if f.beginErr != nil {
		f.mu.Unlock()
		return f.beginErr
	}
	f.units++
	f.mu.Unlock()

	err := fn(nil)
	if err != nil {
		f.mu.Lock()
		f.failed++
		f.mu.Unlock()
	}
	return err
}

func (f *fakeTransactor) Conn() database.Querier { return nil }

var _ database.Transactor = (*fakeTransactor)(nil)

// mockFetcher serves list pages by number and details by set id.
type mockFetcher struct {
	mu          sync.Mutex
	pages       map[int]string
	pageErrs    map[int]error
	details     map[string]string
	detailErrs  map[string]error
	pageCalls   []int
	detailCalls []string
	lastAfter   *time.Time
	lastVersion int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		pages:      map[int]string{},
		pageErrs:   map[int]error{},
		details:    map[string]string{},
		detailErrs: map[string]error{},
	}
}

func (m *mockFetcher) FetchSPLs(ctx context.Context, page int, publishedAfter *time.Time) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageCalls = append(m.pageCalls, page)
	m.lastAfter = publishedAfter
	if err := m.pageErrs[page]; err != nil {
		return nil, err
	}
	body, ok := m.pages[page]
	if !ok {
		return nil, fmt.Errorf("page %d: %w", page, apperrors.ErrNotFound)
	}
	return []byte(body), nil
}

func (m *mockFetcher) FetchSPL(ctx context.Context, setID string, version int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailCalls = append(m.detailCalls, setID)
	m.lastVersion = version
	if err := m.detailErrs[setID]; err != nil {
		return nil, err
	}
	body, ok := m.details[setID]
	if !ok {
		return nil, fmt.Errorf("spl %s: %w", setID, apperrors.ErrNotFound)
	}
	return []byte(body), nil
}

type mockSPLRepo struct {
	mu         sync.Mutex
	rows       map[string]*models.SPL
	upsertErrs map[string]error
	nextID     int64
	latest     *time.Time
	latestErr  error
	needing    []models.SPLRef
	selectErr  error
	selects    []int64
}

func newMockSPLRepo() *mockSPLRepo {
	return &mockSPLRepo{rows: map[string]*models.SPL{}, upsertErrs: map[string]error{}}
}

func (r *mockSPLRepo) Upsert(ctx context.Context, q database.Querier, spl *models.SPL) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.upsertErrs[spl.SetID]; err != nil {
		return 0, err
	}
	if existing, ok := r.rows[spl.SetID]; ok {
		spl.ID = existing.ID
	} else {
		r.nextID++
		spl.ID = r.nextID
	}
	copied := *spl
	r.rows[spl.SetID] = &copied
	return spl.ID, nil
}

func (r *mockSPLRepo) GetBySetID(ctx context.Context, q database.Querier, setID string) (*models.SPL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[setID]; ok {
		return s, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *mockSPLRepo) List(ctx context.Context, q database.Querier, page repositories.Page) ([]*models.SPL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SPL
	for _, s := range r.rows {
		out = append(out, s)
	}
	return out, nil
}

func (r *mockSPLRepo) LatestPublishedDate(ctx context.Context, q database.Querier) (*time.Time, error) {
	return r.latest, r.latestErr
}

func (r *mockSPLRepo) ListNeedingDetailSync(ctx context.Context, q database.Querier, afterID int64, limit int) ([]models.SPLRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selects = append(r.selects, afterID)
	if r.selectErr != nil {
		return nil, r.selectErr
	}
	var out []models.SPLRef
	for _, ref := range r.needing {
		if ref.ID > afterID && len(out) < limit {
			out = append(out, ref)
		}
	}
	return out, nil
}

func keyOf(parts ...*string) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		if p == nil {
			s[i] = "<nil>"
		} else {
			s[i] = *p
		}
	}
	return strings.Join(s, "|")
}

type mockFormRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.MedForm
	nextID    int64
	findErr   error
	upsertErr error
	created   int
}

func newMockFormRepo() *mockFormRepo {
	return &mockFormRepo{rows: map[string]*models.MedForm{}}
}

func (r *mockFormRepo) FindByCode(ctx context.Context, q database.Querier, code, codeSystem *string) (*models.MedForm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	if f, ok := r.rows[keyOf(code, codeSystem)]; ok {
		return f, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *mockFormRepo) Upsert(ctx context.Context, q database.Querier, form *models.MedForm) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return 0, r.upsertErr
	}
	key := keyOf(form.Code, form.CodeSystem)
	if existing, ok := r.rows[key]; ok {
		existing.Name = form.Name
		return existing.ID, nil
	}
	r.nextID++
	r.created++
	copied := *form
	copied.ID = r.nextID
	r.rows[key] = &copied
	return copied.ID, nil
}

type mockOrgRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.Organization
	nextID    int64
	upsertErr error
}

func newMockOrgRepo() *mockOrgRepo {
	return &mockOrgRepo{rows: map[string]*models.Organization{}}
}

func (r *mockOrgRepo) FindByNIHID(ctx context.Context, q database.Querier, extension, root *string) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.rows[keyOf(extension, root)]; ok {
		return o, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *mockOrgRepo) Upsert(ctx context.Context, q database.Querier, org *models.Organization) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return 0, r.upsertErr
	}
	key := keyOf(org.NIHIDExtension, org.NIHIDRoot)
	if existing, ok := r.rows[key]; ok {
		existing.Name = org.Name
		return existing.ID, nil
	}
	r.nextID++
	copied := *org
	copied.ID = r.nextID
	r.rows[key] = &copied
	return copied.ID, nil
}

type mockMedRepo struct {
	mu        sync.Mutex
	meds      []*models.Med
	links     map[[2]int64]bool
	nextID    int64
	upsertErr error
	linkErr   error
	markErr   error
	synced    []int64
}

func newMockMedRepo() *mockMedRepo {
	return &mockMedRepo{links: map[[2]int64]bool{}}
}

func (r *mockMedRepo) Upsert(ctx context.Context, q database.Querier, med *models.Med) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return 0, r.upsertErr
	}
	r.nextID++
	copied := *med
	copied.ID = r.nextID
	r.meds = append(r.meds, &copied)
	return copied.ID, nil
}

func (r *mockMedRepo) ListBySPL(ctx context.Context, q database.Querier, splID int64) ([]*models.Med, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Med
	for _, m := range r.meds {
		if m.SPLID == splID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *mockMedRepo) LinkOrganization(ctx context.Context, q database.Querier, medID, orgID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkErr != nil {
		return r.linkErr
	}
	r.links[[2]int64{medID, orgID}] = true
	return nil
}

func (r *mockMedRepo) ListOrganizationLinks(ctx context.Context, q database.Querier, medID int64) ([]*models.MedOrganizationMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MedOrganizationMap
	for k := range r.links {
		if k[0] == medID {
			out = append(out, &models.MedOrganizationMap{MedID: k[0], OrgID: k[1]})
		}
	}
	return out, nil
}

func (r *mockMedRepo) MarkSynced(ctx context.Context, q database.Querier, splID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	r.synced = append(r.synced, splID)
	return nil
}

type mockIssueRepo struct {
	mu      sync.Mutex
	parsing []*models.SPLParsingIssue
	data    []*models.SPLDataIssue
	err     error
}

func (r *mockIssueRepo) CreateParsingIssue(ctx context.Context, q database.Querier, issue *models.SPLParsingIssue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.parsing = append(r.parsing, issue)
	return nil
}

func (r *mockIssueRepo) CreateDataIssue(ctx context.Context, q database.Querier, issue *models.SPLDataIssue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.data = append(r.data, issue)
	return nil
}

func (r *mockIssueRepo) ListParsingIssues(ctx context.Context, q database.Querier, splID int64) ([]*models.SPLParsingIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SPLParsingIssue
	for _, i := range r.parsing {
		if i.SPLID != nil && *i.SPLID == splID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *mockIssueRepo) ListDataIssues(ctx context.Context, q database.Querier, splID int64) ([]*models.SPLDataIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SPLDataIssue
	for _, i := range r.data {
		if i.SPLID != nil && *i.SPLID == splID {
			out = append(out, i)
		}
	}
	return out, nil
}

// dataIssuesFor returns the data issues recorded for splID.
func (r *mockIssueRepo) dataIssuesFor(splID int64) []*models.SPLDataIssue {
	issues, _ := r.ListDataIssues(context.Background(), nil, splID)
	return issues
}

type mockRepos struct {
	spls   *mockSPLRepo
	forms  *mockFormRepo
	meds   *mockMedRepo
	orgs   *mockOrgRepo
	issues *mockIssueRepo
}

func newMockRepos() *mockRepos {
	return &mockRepos{
		spls:   newMockSPLRepo(),
		forms:  newMockFormRepo(),
		meds:   newMockMedRepo(),
		orgs:   newMockOrgRepo(),
		issues: &mockIssueRepo{},
	}
}

func (m *mockRepos) repositories() Repositories {
	return Repositories{SPLs: m.spls, Forms: m.forms, Meds: m.meds, Orgs: m.orgs, Issues: m.issues}
}

var (
	_ repositories.SPLRepository          = (*mockSPLRepo)(nil)
	_ repositories.MedFormRepository      = (*mockFormRepo)(nil)
	_ repositories.MedRepository          = (*mockMedRepo)(nil)
	_ repositories.OrganizationRepository = (*mockOrgRepo)(nil)
	_ repositories.IssueRepository        = (*mockIssueRepo)(nil)
)

// listPageXML renders a list page with one entry per set id.
func listPageXML(current, total int, setIDs ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<spls><metadata><total_pages>%d</total_pages><current_page>%d</current_page></metadata>", total, current)
	for i, id := range setIDs {
		fmt.Fprintf(&sb, "<spl><setid>%s</setid><spl_version>%d</spl_version><title>Title %s</title><published_date>Mar %d, 2024</published_date></spl>",
			id, i+1, id, i+1)
	}
	sb.WriteString("</spls>")
	return sb.String()
}

type detailDoc struct {
	formName      string
	orgName       string
	orgRoot       string
	effectiveDate string
	version       string
	noForm        bool
}

func defaultDetail() detailDoc {
	return detailDoc{
		formName:      "TABLET",
		orgName:       "Acme Pharmaceuticals Inc.",
		orgRoot:       "1.3.6.1.4.1.519.1",
		effectiveDate: "20240115",
		version:       "3",
	}
}

func (d detailDoc) xml() string {
	orgID := `<id extension="012345678"/>`
	if d.orgRoot != "" {
		orgID = fmt.Sprintf(`<id extension="012345678" root="%s"/>`, d.orgRoot)
	}
	form := fmt.Sprintf(`<formCode code="C42998" codeSystem="2.16.840.1.113883.3.26.1.1" displayName="%s"/>`, d.formName)
	if d.noForm {
		form = ""
	}
	return fmt.Sprintf(`<document xmlns="urn:hl7-org:v3">
  <code code="34391-3" codeSystem="2.16.840.1.113883.6.1"/>
  <effectiveTime value="%s"/>
  <versionNumber value="%s"/>
  <author><assignedEntity><representedOrganization>%s<name>%s</name></representedOrganization></assignedEntity></author>
  <component><manufacturedProduct><manufacturedProduct>
    <name>Ibuprofen</name>%s
    <asEntityWithGeneric><genericMedicine><name>IBUPROFEN</name></genericMedicine></asEntityWithGeneric>
  </manufacturedProduct></manufacturedProduct></component>
</document>`, d.effectiveDate, d.version, orgID, d.orgName, form)
}
