package videos

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/coursekit/domain/realtime"
	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/internal/storage"
)

// buildMP4 assembles a minimal valid container: ftyp followed by a moov
// holding a version 0 mvhd with the given timescale and duration.
func buildMP4(timescale, duration uint32) []byte {
	var buf bytes.Buffer

	ftyp := []byte("isom\x00\x00\x02\x00isomiso2")
	binary.Write(&buf, binary.BigEndian, uint32(8+len(ftyp)))
	buf.WriteString("ftyp")
	buf.Write(ftyp)

	mvhd := make([]byte, 100)
	binary.BigEndian.PutUint32(mvhd[12:16], timescale)
	binary.BigEndian.PutUint32(mvhd[16:20], duration)

	var moov bytes.Buffer
	binary.Write(&moov, binary.BigEndian, uint32(8+len(mvhd)))
	moov.WriteString("mvhd")
	moov.Write(mvhd)

	binary.Write(&buf, binary.BigEndian, uint32(8+moov.Len()))
	buf.WriteString("moov")
	buf.Write(moov.Bytes())

	return buf.Bytes()
}

func TestProbe(t *testing.T) {
	t.Run("extracts duration and size", func(t *testing.T) {
		data := buildMP4(1000, 754*1000)
		res, err := Probe(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, int64(754), res.DurationSeconds)
		assert.Equal(t, int64(len(data)), res.SizeBytes)
	})

	t.Run("rejects non mp4 data", func(t *testing.T) {
		data := []byte("<!DOCTYPE html><html><body>not a video</body></html>")
		_, err := Probe(bytes.NewReader(data), int64(len(data)))
		assert.ErrorIs(t, err, ErrNotMP4)
	})

	t.Run("rejects truncated file", func(t *testing.T) {
		data := buildMP4(1000, 5000)[:12]
		_, err := Probe(bytes.NewReader(data), int64(len(data)))
		assert.Error(t, err)
	})

	t.Run("rejects missing moov", func(t *testing.T) {
		var buf bytes.Buffer
		binary.Write(&buf, binary.BigEndian, uint32(16))
		buf.WriteString("ftyp")
		buf.WriteString("isomlive")
		data := buf.Bytes()
		_, err := Probe(bytes.NewReader(data), int64(len(data)))
		assert.ErrorIs(t, err, ErrCorruptVideo)
	})

	t.Run("rejects zero timescale", func(t *testing.T) {
		data := buildMP4(0, 5000)
		_, err := Probe(bytes.NewReader(data), int64(len(data)))
		assert.ErrorIs(t, err, ErrCorruptVideo)
	})
}

// memoryCatalog honors the Catalog contract in memory: create and
// compensate mutate the row and both counters under one lock.
type memoryCatalog struct {
	mu       sync.Mutex
	courses  map[string]*Course
	sections map[string]*Section
	videos   map[string]*VideoAsset
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		courses:  make(map[string]*Course),
		sections: make(map[string]*Section),
		videos:   make(map[string]*VideoAsset),
	}
}

func (c *memoryCatalog) addCourse(courseID, instructorID, sectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses[courseID] = &Course{ID: courseID, InstructorID: instructorID}
	c.sections[sectionID] = &Section{ID: sectionID, CourseID: courseID}
}

func (c *memoryCatalog) CreateVideo(ctx context.Context, asset *VideoAsset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	course, ok := c.courses[asset.CourseID]
	if !ok {
		return fmt.Errorf("course %s not found", asset.CourseID)
	}
	section, ok := c.sections[asset.SectionID]
	if !ok {
		return fmt.Errorf("section %s not found", asset.SectionID)
	}
	snapshot := *asset
	c.videos[asset.ID] = &snapshot
	course.TotalVideos++
	course.TotalDurationSeconds += asset.DurationSeconds
	section.TotalVideos++
	section.TotalDurationSeconds += asset.DurationSeconds
	return nil
}

func (c *memoryCatalog) CompensateVideo(ctx context.Context, videoID string) (*VideoAsset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	asset, ok := c.videos[videoID]
	if !ok {
		return nil, nil
	}
	delete(c.videos, videoID)
	if course, ok := c.courses[asset.CourseID]; ok {
		course.TotalVideos--
		course.TotalDurationSeconds -= asset.DurationSeconds
	}
	if section, ok := c.sections[asset.SectionID]; ok {
		section.TotalVideos--
		section.TotalDurationSeconds -= asset.DurationSeconds
	}
	return asset, nil
}

func (c *memoryCatalog) Video(ctx context.Context, videoID string) (*VideoAsset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	asset, ok := c.videos[videoID]
	if !ok {
		return nil, nil
	}
	snapshot := *asset
	return &snapshot, nil
}

func (c *memoryCatalog) Course(ctx context.Context, courseID string) (*Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	course, ok := c.courses[courseID]
	if !ok {
		return nil, nil
	}
	snapshot := *course
	return &snapshot, nil
}

func (c *memoryCatalog) CompleteProcessing(ctx context.Context, videoID string, renditions []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	asset, ok := c.videos[videoID]
	if !ok {
		return fmt.Errorf("video %s not found", videoID)
	}
	asset.ProcessStatus = ProcessStatusCompleted
	asset.Renditions = renditions
	return nil
}

func (c *memoryCatalog) FailProcessing(ctx context.Context, videoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	asset, ok := c.videos[videoID]
	if !ok {
		return fmt.Errorf("video %s not found", videoID)
	}
	asset.ProcessStatus = ProcessStatusFailed
	return nil
}

func (c *memoryCatalog) SetCourseApproval(ctx context.Context, courseID string, status ApprovalStatus) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, asset := range c.videos {
		if asset.CourseID == courseID {
			asset.ApprovalStatus = status
			n++
		}
	}
	return n, nil
}

// fakeBlobStore records puts and can be programmed to fail.
type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string]int64
	uploadErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string]int64)}
}

func (s *fakeBlobStore) setUploadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadErr = err
}

func (s *fakeBlobStore) Upload(ctx context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	if _, err := io.Copy(io.Discard, data); err != nil {
		return nil, err
	}
	s.objects[key] = size
	return &storage.UploadResult{Key: key, Size: size}, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeBlobStore) GetSignedDownloadURL(ctx context.Context, key string, opts storage.GetSignedDownloadURLOptions) (string, error) {
	return "https://blob.example.com/" + key + "?signed=1", nil
}

type noRelay struct{}

func (noRelay) EmitToUser(userID, event string, payload any)      {}
func (noRelay) BroadcastExcept(userID, event string, payload any) {}

func videosConfig(t *testing.T) *config.Config {
	return &config.Config{
		Videos: config.VideosConfig{
			MaxUploadSizeMB: 64,
			Renditions:      []string{"720p", "480p"},
			SignedURLTTL:    time.Hour,
			StagingDir:      t.TempDir(),
		},
	}
}

func stageFile(t *testing.T, dir string, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "src-*.mp4")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

type pipelineFixture struct {
	catalog *memoryCatalog
	store   *fakeBlobStore
	broker  *jobs.MemoryBroker
	runtime *jobs.Runtime
	relay   realtime.Relay
}

func newPipeline(t *testing.T, cfg *config.Config) *pipelineFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &pipelineFixture{
		catalog: newMemoryCatalog(),
		store:   newFakeBlobStore(),
		broker:  jobs.NewMemoryBroker(),
		relay:   noRelay{},
	}
	f.runtime = jobs.NewRuntime(f.broker, jobs.RuntimeConfig{
		PollInterval:  2 * time.Millisecond,
		LeaseDuration: time.Minute,
	}, log)

	h := NewHandler(f.catalog, f.store, f.broker, f.relay, cfg, log)
	f.runtime.Register(jobs.QueueVideos, h.Handle, jobs.HandlerOptions{
		Concurrency: 2,
		Compensate:  h.Compensate,
	})
	require.NoError(t, f.runtime.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.runtime.Stop(ctx)
	})
	return f
}

func (f *pipelineFixture) ingestedAsset(t *testing.T, cfg *config.Config, data []byte) (*VideoAsset, string) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(f.catalog, f.broker, f.store, cfg, log)

	f.catalog.addCourse("course-1", "instructor-1", "section-1")
	asset, err := svc.Ingest(context.Background(), IngestRequest{
		CourseID:  "course-1",
		SectionID: "section-1",
		Title:     "Intro",
		Filename:  "intro.mp4",
		Source:    bytes.NewReader(data),
		Size:      int64(len(data)),
	})
	require.NoError(t, err)

	files, err := os.ReadDir(cfg.Videos.StagingDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	return asset, cfg.Videos.StagingDir + "/" + files[0].Name()
}

func TestPipeline_UploadThenTranscodeCompletes(t *testing.T) {
	cfg := videosConfig(t)
	f := newPipeline(t, cfg)
	data := buildMP4(1000, 90*1000)
	asset, staged := f.ingestedAsset(t, cfg, data)

	// upload job then chained transcode job both ack
	require.Eventually(t, func() bool {
		stats, err := f.broker.Stats(context.Background(), jobs.QueueVideos)
		return err == nil && stats.Completed == 2
	}, 5*time.Second, 5*time.Millisecond)

	final, err := f.catalog.Video(context.Background(), asset.ID)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, ProcessStatusCompleted, final.ProcessStatus)
	assert.Equal(t, []string{
		storage.RenditionKey(asset.StorageKey, "720p"),
		storage.RenditionKey(asset.StorageKey, "480p"),
	}, final.Renditions)

	exists, err := f.store.Exists(context.Background(), asset.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists, "source object lives in the blob store")

	_, err = os.Stat(staged)
	assert.True(t, os.IsNotExist(err), "staged file cleaned up after upload")

	course, err := f.catalog.Course(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 1, course.TotalVideos)
	assert.Equal(t, int64(90), course.TotalDurationSeconds)
}

func TestPipeline_DeadLetterCompensationRestoresCounters(t *testing.T) {
	cfg := videosConfig(t)
	f := newPipeline(t, cfg)
	f.store.setUploadErr(errors.New("blob store unreachable"))

	// commit the aggregate and stage the file directly so the upload job
	// can carry a small max attempt count
	f.catalog.addCourse("course-1", "instructor-1", "section-1")
	data := buildMP4(1000, 60*1000)
	staged := stageFile(t, cfg.Videos.StagingDir, data)
	asset := &VideoAsset{
		ID:              "video-dl",
		CourseID:        "course-1",
		SectionID:       "section-1",
		Title:           "Doomed",
		StorageKey:      "videos/course-1/doomed.mp4",
		DurationSeconds: 60,
		SizeBytes:       int64(len(data)),
		ProcessStatus:   ProcessStatusPending,
	}
	require.NoError(t, f.catalog.CreateVideo(context.Background(), asset))

	payload, err := jobs.Encode(jobs.KindVideoUpload, &jobs.VideoUploadPayload{
		FileRef: staged,
		VideoID: asset.ID,
	})
	require.NoError(t, err)
	_, err = f.broker.Enqueue(context.Background(), jobs.QueueVideos, payload, jobs.Options{
		MaxAttempts: 3,
		BackoffMs:   1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := f.broker.Stats(context.Background(), jobs.QueueVideos)
		return err == nil && stats.DeadLetter == 1
	}, 5*time.Second, 5*time.Millisecond)

	dead, err := f.broker.DeadLetters(context.Background(), jobs.QueueVideos)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempt, "retried exactly maxAttempts times")

	require.Eventually(t, func() bool {
		gone, err := f.catalog.Video(context.Background(), asset.ID)
		return err == nil && gone == nil
	}, 2*time.Second, 5*time.Millisecond, "video row removed by compensation")

	course, err := f.catalog.Course(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 0, course.TotalVideos, "course counter restored")
	assert.Equal(t, int64(0), course.TotalDurationSeconds)

	section := f.catalog.sections["section-1"]
	assert.Equal(t, 0, section.TotalVideos, "section counter restored")
}

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string                 { return e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestPipeline_CredentialErrorDeadLettersImmediately(t *testing.T) {
	cfg := videosConfig(t)
	f := newPipeline(t, cfg)
	f.store.setUploadErr(&fakeAPIError{code: "InvalidAccessKeyId"})

	data := buildMP4(1000, 30*1000)
	asset, _ := f.ingestedAsset(t, cfg, data)

	require.Eventually(t, func() bool {
		stats, err := f.broker.Stats(context.Background(), jobs.QueueVideos)
		return err == nil && stats.DeadLetter == 1
	}, 5*time.Second, 5*time.Millisecond)

	dead, err := f.broker.DeadLetters(context.Background(), jobs.QueueVideos)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 1, dead[0].Attempt, "fatal errors never retry")

	gone, err := f.catalog.Video(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestIngest_RejectsCorruptFileBeforeCommit(t *testing.T) {
	cfg := videosConfig(t)
	catalog := newMemoryCatalog()
	catalog.addCourse("course-1", "instructor-1", "section-1")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(catalog, jobs.NewMemoryBroker(), newFakeBlobStore(), cfg, log)

	_, err := svc.Ingest(context.Background(), IngestRequest{
		CourseID:  "course-1",
		SectionID: "section-1",
		Title:     "Bad",
		Filename:  "bad.mp4",
		Source:    bytes.NewReader([]byte("definitely not an mp4")),
		Size:      21,
	})
	require.Error(t, err)

	course, _ := catalog.Course(context.Background(), "course-1")
	assert.Equal(t, 0, course.TotalVideos, "no state written for a rejected file")

	files, err := os.ReadDir(cfg.Videos.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, files, "staged file removed after probe failure")
}

func TestApprovalCascade(t *testing.T) {
	catalog := newMemoryCatalog()
	catalog.addCourse("course-1", "instructor-1", "section-1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, catalog.CreateVideo(ctx, &VideoAsset{
			ID:        fmt.Sprintf("v%d", i),
			CourseID:  "course-1",
			SectionID: "section-1",
		}))
	}
	require.NoError(t, catalog.CreateVideo(ctx, &VideoAsset{
		ID: "other", CourseID: "course-1", SectionID: "section-1",
	}))

	n, err := catalog.SetCourseApproval(ctx, "course-1", ApprovalStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
