package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docRender/internal/database"
	"docRender/internal/errcode"
	"docRender/internal/pageproc"
	"docRender/internal/publish"
	"docRender/internal/raster"
	"docRender/internal/source"
	"docRender/internal/storage/storagetest"
)

const shareLink = "https://provider.example/file/d/ABCDEFGHIJKLMNOPQRSTUVWXY/view"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	mu         sync.Mutex
	metaErr    error
	ids        []string
	onDownload func()
}

func (s *fakeSource) Metadata(_ context.Context, id string) (source.ExternalDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	if s.metaErr != nil {
		return source.ExternalDocument{}, s.metaErr
	}
	return source.ExternalDocument{CanonicalID: id, Name: "case-study.pdf", MimeType: source.MimeTypePDF, SizeBytes: 8}, nil
}

func (s *fakeSource) Download(context.Context, string) (io.ReadCloser, error) {
	s.mu.Lock()
	hook := s.onDownload
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return io.NopCloser(bytes.NewReader([]byte("%PDF-1.7"))), nil
}

func (s *fakeSource) setMetaErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaErr = err
}

// pageEngine renders letter-sized pages with a line whose position depends on
// the page number.
type pageEngine struct {
	pages int
}

func (e pageEngine) Open([]byte) (raster.Document, error) { return pageDocument(e), nil }

type pageDocument struct {
	pages int
}

func (d pageDocument) NumPage() int { return d.pages }

func (d pageDocument) RenderPage(index int, dpi float64) (image.Image, error) {
	w, h := int(8.5*dpi), int(11*dpi)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	row := (index + 1) * h / (d.pages + 1)
	for x := 0; x < w; x++ {
		img.Set(x, row, color.Black)
	}
	return img, nil
}

func (d pageDocument) Close() error { return nil }

// holdDispatcher accepts jobs without running them.
type holdDispatcher struct {
	mu   sync.Mutex
	jobs []Dispatch
	err  error
}

func (d *holdDispatcher) Dispatch(_ context.Context, req Dispatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, req)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Status
	}
	return out
}

type harness struct {
	db       *gorm.DB
	store    *GormJobStore
	assets   *storagetest.MemoryStore
	source   *fakeSource
	clock    *fakeClock
	notifier *recordingNotifier
	coord    *Coordinator
	inline   *InlineDispatcher
}

func newHarness(t *testing.T, pages int) *harness {
	t.Helper()
	db := setupTestDB(t)
	h := &harness{
		db:       db,
		store:    NewGormJobStore(db),
		assets:   storagetest.NewMemoryStore(),
		source:   &fakeSource{},
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	h.assets.Now = h.clock.Now

	h.coord = NewCoordinator(Deps{
		Store:      h.store,
		Fetcher:    source.NewFetcher(h.source, nil, 0, nil),
		Rasterizer: raster.NewRasterizer(pageEngine{pages: pages}, nil, raster.Options{TargetWidth: 400, Density: 72, Workers: 2}, nil),
		Processor:  pageproc.NewProcessor(90, 2),
		Publisher:  publish.NewPublisher(h.assets, 2, nil),
		Notifier:   h.notifier,
		Now:        h.clock.Now,
	}, Options{StaleAfter: 30 * time.Minute})
	h.inline = NewInlineDispatcher(h.coord, nil)
	h.coord.SetDispatcher(h.inline)
	return h
}

func (h *harness) createDocument(t *testing.T, doc database.Document) database.Document {
	t.Helper()
	if err := h.db.Create(&doc).Error; err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func (h *harness) render(t *testing.T, docID uint, sel raster.PageSelector) string {
	t.Helper()
	jobID, err := h.coord.RequestRender(context.Background(), docID, shareLink, sel, "corr-"+t.Name())
	if err != nil {
		t.Fatalf("request render: %v", err)
	}
	h.inline.Wait()
	return jobID
}

func (h *harness) countJobs(t *testing.T, docID uint) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(&database.RenderJob{}).Where("document_id = ?", docID).Count(&n).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	return n
}

func TestRenderEndToEndWithWatermark(t *testing.T) {
	h := newHarness(t, 3)
	doc := h.createDocument(t, database.Document{Title: "Case study", WatermarkEnabled: true, WatermarkText: "Confidential"})

	jobID := h.render(t, doc.ID, raster.All())

	st, err := h.coord.GetStatus(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != database.JobCompleted || st.TotalPages != 3 || st.JobID != jobID {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.SourceName != "case-study.pdf" {
		t.Fatalf("source name = %q", st.SourceName)
	}
	if len(h.source.ids) != 1 || h.source.ids[0] != "ABCDEFGHIJKLMNOPQRSTUVWXY" {
		t.Fatalf("fetched ids %v", h.source.ids)
	}

	current, pages, err := h.store.CurrentPages(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("current pages: %v", err)
	}
	if current.RenderingJobID != nil {
		t.Fatalf("render lock not released")
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}

	plain := pageproc.NewProcessor(90, 1)
	r := raster.NewRasterizer(pageEngine{pages: 3}, nil, raster.Options{TargetWidth: 400, Density: 72}, nil)
	raw, err := r.Rasterize(context.Background(), nil, raster.All(), 0, 0)
	if err != nil {
		t.Fatalf("rasterize reference pages: %v", err)
	}

	for i, page := range pages {
		if page.PageNumber != i+1 || page.Width != 400 {
			t.Fatalf("page %d: %+v", i, page)
		}
		stored, ok := h.assets.Object(page.ObjectKey)
		if !ok {
			t.Fatalf("object %q missing", page.ObjectKey)
		}
		unmarked, err := plain.Process(raw[i], pageproc.VisibilityPolicy{})
		if err != nil {
			t.Fatalf("process reference page: %v", err)
		}
		if bytes.Equal(stored, unmarked.Data) {
			t.Fatalf("page %d carries no watermark", page.PageNumber)
		}
	}

	got := h.notifier.statuses()
	if len(got) != 2 || got[0] != database.JobRendering || got[1] != database.JobCompleted {
		t.Fatalf("notifications = %v", got)
	}
}

func TestInvalidReferenceCreatesNoJob(t *testing.T) {
	h := newHarness(t, 1)
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	_, err := h.coord.RequestRender(context.Background(), doc.ID, "not a valid reference", raster.First(), "")
	if !errors.Is(err, errcode.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	if n := h.countJobs(t, doc.ID); n != 0 {
		t.Fatalf("expected no job, found %d", n)
	}
}

func TestRequestRenderUnknownDocument(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.coord.RequestRender(context.Background(), 404, shareLink, raster.First(), "")
	if !errors.Is(err, errcode.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestConflictLeavesInFlightJobUntouched(t *testing.T) {
	h := newHarness(t, 2)
	hold := &holdDispatcher{}
	h.coord.SetDispatcher(hold)
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	first, err := h.coord.RequestRender(context.Background(), doc.ID, shareLink, raster.All(), "")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	st, err := h.coord.GetStatus(context.Background(), doc.ID)
	if err != nil || st.Status != database.JobRendering {
		t.Fatalf("status after accept = %+v, %v", st, err)
	}

	_, err = h.coord.RequestRender(context.Background(), doc.ID, shareLink, raster.First(), "")
	if !errors.Is(err, errcode.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	job, err := h.store.GetJob(context.Background(), first)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != database.JobRendering {
		t.Fatalf("in-flight job status changed to %s", job.Status)
	}
	if n := h.countJobs(t, doc.ID); n != 1 {
		t.Fatalf("expected 1 job, found %d", n)
	}
	if len(hold.jobs) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(hold.jobs))
	}

	// 锁释放后可以继续执行
	if err := h.coord.Execute(context.Background(), first, ""); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if st, _ := h.coord.GetStatus(context.Background(), doc.ID); st.Status != database.JobCompleted || st.TotalPages != 2 {
		t.Fatalf("status after execute = %+v", st)
	}
}

func TestConcurrentRequestsAcquireLockOnce(t *testing.T) {
	h := newHarness(t, 1)
	h.coord.SetDispatcher(&holdDispatcher{})
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.RequestRender(context.Background(), doc.ID, shareLink, raster.First(), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, errcode.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || conflicts != callers-1 {
		t.Fatalf("accepted=%d conflicts=%d", accepted, conflicts)
	}
}

func TestFailedRerenderKeepsPreviousPages(t *testing.T) {
	h := newHarness(t, 2)
	doc := h.createDocument(t, database.Document{Title: "Doc", IsPublic: true})

	firstJob := h.render(t, doc.ID, raster.All())
	_, before, err := h.store.CurrentPages(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("current pages: %v", err)
	}

	h.source.setMetaErr(fmt.Errorf("files.get: %w", errcode.ErrAccessDenied))
	h.render(t, doc.ID, raster.All())

	st, err := h.coord.GetStatus(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != database.JobFailed || st.ErrorMessage == "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.ErrorCode != errcode.AccessDenied || !strings.HasPrefix(st.ErrorMessage, StageFetch+":") {
		t.Fatalf("failure not attributed to fetch: %+v", st)
	}

	current, after, err := h.store.CurrentPages(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("current pages after failure: %v", err)
	}
	if current.CurrentJobID == nil || *current.CurrentJobID != firstJob {
		t.Fatalf("current job changed to %v", current.CurrentJobID)
	}
	if current.RenderingJobID != nil {
		t.Fatalf("render lock not released after failure")
	}
	if len(after) != len(before) {
		t.Fatalf("page set changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ObjectKey != after[i].ObjectKey {
			t.Fatalf("page %d key changed", i+1)
		}
		if _, ok := h.assets.Object(after[i].ObjectKey); !ok {
			t.Fatalf("page %d object removed", i+1)
		}
	}
}

func TestRerenderReplacesPageSetAndIsRepeatable(t *testing.T) {
	h := newHarness(t, 2)
	doc := h.createDocument(t, database.Document{Title: "Doc", WatermarkEnabled: true, WatermarkText: "Confidential"})

	firstJob := h.render(t, doc.ID, raster.All())
	_, firstPages, err := h.store.CurrentPages(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("current pages: %v", err)
	}
	firstBytes, _ := h.assets.Object(firstPages[0].ObjectKey)

	h.clock.Advance(time.Minute)
	secondJob := h.render(t, doc.ID, raster.All())
	if secondJob == firstJob {
		t.Fatal("re-render reused job id")
	}

	st, _ := h.coord.GetStatus(context.Background(), doc.ID)
	if st.JobID != secondJob || st.TotalPages != 2 {
		t.Fatalf("unexpected status %+v", st)
	}

	_, secondPages, err := h.store.CurrentPages(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("current pages: %v", err)
	}
	secondBytes, ok := h.assets.Object(secondPages[0].ObjectKey)
	if !ok {
		t.Fatal("new page object missing")
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Fatal("re-render produced different bytes for the same input")
	}

	for _, key := range h.assets.Keys() {
		if strings.Contains(key, firstJob) {
			t.Fatalf("retired object %q still stored", key)
		}
	}
	var retired int64
	h.db.Model(&database.RenderedPage{}).Where("job_id = ?", firstJob).Count(&retired)
	if retired != 0 {
		t.Fatalf("retired page rows remain: %d", retired)
	}
}

func TestExplicitPageOutOfRangeFailsJob(t *testing.T) {
	h := newHarness(t, 2)
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	h.render(t, doc.ID, raster.Pages(1, 5))

	st, _ := h.coord.GetStatus(context.Background(), doc.ID)
	if st.Status != database.JobFailed || st.ErrorCode != errcode.ConversionError {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, _, err := h.store.CurrentPages(context.Background(), doc.ID); !errors.Is(err, errcode.ErrNeverRendered) {
		t.Fatalf("expected ErrNeverRendered, got %v", err)
	}
}

func TestPublishFailureLeavesNoObjects(t *testing.T) {
	h := newHarness(t, 3)
	h.assets.FailPut = "page-0002.jpg"
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	h.render(t, doc.ID, raster.All())

	st, _ := h.coord.GetStatus(context.Background(), doc.ID)
	if st.Status != database.JobFailed || st.ErrorCode != errcode.PublishError {
		t.Fatalf("unexpected status %+v", st)
	}
	if keys := h.assets.Keys(); len(keys) != 0 {
		t.Fatalf("partial upload left behind: %v", keys)
	}
}

func TestDispatchFailureReleasesLock(t *testing.T) {
	h := newHarness(t, 1)
	h.coord.SetDispatcher(&holdDispatcher{err: errors.New("redis unavailable")})
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	if _, err := h.coord.RequestRender(context.Background(), doc.ID, shareLink, raster.First(), ""); err == nil {
		t.Fatal("expected dispatch error")
	}

	st, _ := h.coord.GetStatus(context.Background(), doc.ID)
	if st.Status != database.JobFailed {
		t.Fatalf("unexpected status %+v", st)
	}

	h.coord.SetDispatcher(h.inline)
	h.render(t, doc.ID, raster.First())
	if st, _ := h.coord.GetStatus(context.Background(), doc.ID); st.Status != database.JobCompleted {
		t.Fatalf("render after dispatch failure = %+v", st)
	}
}

func TestReapStaleFailsJobAndDiscardsLateResult(t *testing.T) {
	h := newHarness(t, 1)
	h.coord.SetDispatcher(&holdDispatcher{})
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	jobID, err := h.coord.RequestRender(context.Background(), doc.ID, shareLink, raster.First(), "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if n, err := h.coord.ReapStale(context.Background()); err != nil || n != 0 {
		t.Fatalf("fresh job reaped: %d, %v", n, err)
	}

	h.clock.Advance(31 * time.Minute)
	n, err := h.coord.ReapStale(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("reap = %d, %v", n, err)
	}

	st, _ := h.coord.GetStatus(context.Background(), doc.ID)
	if st.Status != database.JobFailed || !strings.Contains(st.ErrorMessage, "timed out") {
		t.Fatalf("unexpected status %+v", st)
	}

	// 迟到的执行不能改写终态
	if err := h.coord.Execute(context.Background(), jobID, ""); err != nil {
		t.Fatalf("late execute: %v", err)
	}
	if st, _ := h.coord.GetStatus(context.Background(), doc.ID); st.Status != database.JobFailed {
		t.Fatalf("terminal job mutated: %+v", st)
	}
	if keys := h.assets.Keys(); len(keys) != 0 {
		t.Fatalf("late result left objects: %v", keys)
	}

	h.coord.SetDispatcher(h.inline)
	h.render(t, doc.ID, raster.First())
	if st, _ := h.coord.GetStatus(context.Background(), doc.ID); st.Status != database.JobCompleted {
		t.Fatalf("render after reap = %+v", st)
	}
}

func TestCompleteJobRejectsReapedJob(t *testing.T) {
	h := newHarness(t, 1)
	h.coord.SetDispatcher(&holdDispatcher{})
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	jobID, err := h.coord.RequestRender(context.Background(), doc.ID, shareLink, raster.First(), "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	job, _ := h.store.GetJob(context.Background(), jobID)
	if err := h.store.FailJob(context.Background(), job, errcode.SystemError, "timeout", h.clock.Now()); err != nil {
		t.Fatalf("fail job: %v", err)
	}

	_, err = h.store.CompleteJob(context.Background(), job, []publish.Page{{PageNumber: 1, ObjectKey: "k"}}, h.clock.Now())
	if !errors.Is(err, ErrJobNotRendering) {
		t.Fatalf("expected ErrJobNotRendering, got %v", err)
	}
	var pages int64
	h.db.Model(&database.RenderedPage{}).Where("job_id = ?", jobID).Count(&pages)
	if pages != 0 {
		t.Fatalf("pages inserted for terminal job")
	}
}

func TestGetStatusNeverRequested(t *testing.T) {
	h := newHarness(t, 1)
	doc := h.createDocument(t, database.Document{Title: "Doc"})

	st, err := h.coord.GetStatus(context.Background(), doc.ID)
	if err != nil || st.Status != StatusNone {
		t.Fatalf("status = %+v, %v", st, err)
	}
	if _, err := h.coord.GetStatus(context.Background(), doc.ID+100); !errors.Is(err, errcode.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestProviderErrorFromDrive(t *testing.T) {
	h := newHarness(t, 1)
	doc := h.createDocument(t, database.Document{Title: "Doc"})
	h.source.setMetaErr(&googleapi.Error{Code: http.StatusNotFound, Message: "File not found"})

	h.render(t, doc.ID, raster.First())

	st, _ := h.coord.GetStatus(context.Background(), doc.ID)
	if st.Status != database.JobFailed || st.ErrorMessage == "" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func (h *harness) assertNoPublicObjects(t *testing.T) {
	t.Helper()
	for _, key := range h.assets.Keys() {
		if strings.HasPrefix(key, "public/") {
			t.Fatalf("object %q still under the anonymous-read prefix", key)
		}
	}
}

func TestRevokePublicPagesMovesCurrentSet(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	doc := h.createDocument(t, database.Document{Title: "Doc", IsPublic: true})
	h.render(t, doc.ID, raster.All())

	_, before, err := h.store.CurrentPages(ctx, doc.ID)
	if err != nil {
		t.Fatalf("current pages: %v", err)
	}
	if !before[0].Public || !strings.HasPrefix(before[0].ObjectKey, "public/") {
		t.Fatalf("expected a public page set, got %+v", before[0])
	}

	// 文档仍公开时不迁移
	if err := h.coord.RevokePublicPages(ctx, doc.ID); err != nil {
		t.Fatalf("revoke on public document: %v", err)
	}
	if _, ok := h.assets.Object(before[0].ObjectKey); !ok {
		t.Fatal("public document lost its pages")
	}

	if err := h.db.Model(&database.Document{}).Where("id = ?", doc.ID).Update("is_public", false).Error; err != nil {
		t.Fatalf("make private: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.coord.RevokePublicPages(ctx, doc.ID); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}

	h.assertNoPublicObjects(t)
	_, after, err := h.store.CurrentPages(ctx, doc.ID)
	if err != nil {
		t.Fatalf("current pages: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("page count changed: %d -> %d", len(before), len(after))
	}
	for i, page := range after {
		if page.Public || page.ObjectKey != publish.PrivateKey(before[i].ObjectKey) {
			t.Fatalf("page %d not moved: %+v", page.PageNumber, page)
		}
		if _, ok := h.assets.Object(page.ObjectKey); !ok {
			t.Fatalf("private object %q missing", page.ObjectKey)
		}
	}
}

func TestRevokePublicPagesNeverRendered(t *testing.T) {
	h := newHarness(t, 1)
	doc := h.createDocument(t, database.Document{Title: "Doc"})
	if err := h.coord.RevokePublicPages(context.Background(), doc.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
}

func TestRenderFinishingAfterDocumentTurnedPrivateIsRevoked(t *testing.T) {
	h := newHarness(t, 2)
	doc := h.createDocument(t, database.Document{Title: "Doc", IsPublic: true})
	h.source.onDownload = func() {
		if err := h.db.Model(&database.Document{}).Where("id = ?", doc.ID).Update("is_public", false).Error; err != nil {
			t.Errorf("make private: %v", err)
		}
	}

	h.render(t, doc.ID, raster.All())

	h.assertNoPublicObjects(t)
	_, pages, err := h.store.CurrentPages(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("current pages: %v", err)
	}
	for _, page := range pages {
		if page.Public || !strings.HasPrefix(page.ObjectKey, "private/") {
			t.Fatalf("page %d still public: %+v", page.PageNumber, page)
		}
	}
}

func TestCurrentPagesFollowsPointer(t *testing.T) {
	h := newHarness(t, 1)
	doc := h.createDocument(t, database.Document{Title: "Doc"})
	first := h.render(t, doc.ID, raster.All())
	h.clock.Advance(time.Minute)
	second := h.render(t, doc.ID, raster.All())

	// 旧任务的页面记录若仍残留，也不能混入当前页面集
	stale := database.RenderedPage{JobID: first, DocumentID: doc.ID, PageNumber: 1, ObjectKey: "private/stale", CreatedAt: h.clock.Now()}
	if err := h.db.Create(&stale).Error; err != nil {
		t.Fatalf("insert stale page: %v", err)
	}

	current, pages, err := h.store.CurrentPages(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("current pages: %v", err)
	}
	if current.CurrentJobID == nil || *current.CurrentJobID != second {
		t.Fatalf("current job = %v, want %s", current.CurrentJobID, second)
	}
	if len(pages) != 1 || pages[0].JobID != second {
		t.Fatalf("pages = %+v", pages)
	}
}
