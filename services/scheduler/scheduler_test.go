package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchcenter/db"
	"patchcenter/models"
	"patchcenter/testutils"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func cronJob(spec, timeZone string) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:          "sj_01K3TESTJOB0000000000000000",
		JobName:     "nightly-patching",
		TriggerType: models.TriggerCron,
		CronSpec:    strPtr(spec),
		TimeZone:    timeZone,
	}
}

func TestNextCronRun(t *testing.T) {
	t.Run("DailySpecAdvancesToNextDay", func(t *testing.T) {
		job := cronJob("0 3 * * *", "UTC")
		firedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

		next, ok, err := NextCronRun(job, firedAt)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, next.Equal(time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC)))
	})

	t.Run("SkipsMissedOccurrencesWithoutBackfill", func(t *testing.T) {
		// The scheduler was down for three days; a single advance lands on
		// the first occurrence after the actual fire time.
		job := cronJob("0 3 * * *", "UTC")
		firedAt := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

		next, ok, err := NextCronRun(job, firedAt)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, next.Equal(time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC)))
	})

	t.Run("EvaluatesInJobTimeZone", func(t *testing.T) {
		job := cronJob("0 3 * * *", "America/New_York")
		// Noon UTC is 08:00 in New York during daylight saving; the next
		// 03:00 local occurrence is 07:00 UTC the following day.
		firedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

		next, ok, err := NextCronRun(job, firedAt)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, next.Equal(time.Date(2026, 5, 2, 7, 0, 0, 0, time.UTC)))
	})

	t.Run("DescriptorSpec", func(t *testing.T) {
		job := cronJob("@daily", "UTC")
		firedAt := time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)

		next, ok, err := NextCronRun(job, firedAt)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, next.Equal(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("EndDateStopsRecurrence", func(t *testing.T) {
		job := cronJob("0 3 * * *", "UTC")
		job.EndDate = timePtr(time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC))
		firedAt := time.Date(2026, 5, 1, 3, 0, 5, 0, time.UTC)

		_, ok, err := NextCronRun(job, firedAt)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("MissingSpecIsAnError", func(t *testing.T) {
		job := cronJob("0 3 * * *", "UTC")
		job.CronSpec = nil

		_, _, err := NextCronRun(job, time.Now())
		assert.Error(t, err)
	})

	t.Run("InvalidTimeZoneIsAnError", func(t *testing.T) {
		job := cronJob("0 3 * * *", "Mars/Olympus_Mons")

		_, _, err := NextCronRun(job, time.Now())
		assert.Error(t, err)
	})
}

// Validation happens before any repository access, so a nil-repo service is
// enough to exercise every rejection path.
func TestCreateScheduledJobValidation(t *testing.T) {
	service := NewSchedulerService(nil)
	ctx := context.Background()
	orgID := testutils.NewTestOrgID()

	validDateRequest := func() *models.CreateScheduledJobRequest {
		return &models.CreateScheduledJobRequest{
			JobName:     "one-off-install",
			TriggerType: models.TriggerDate,
			RunAt:       timePtr(time.Now().Add(24 * time.Hour)),
			Operation:   *testutils.TestInstallRequest([]string{"agent-a"}, []string{"app-1"}),
		}
	}

	t.Run("EmptyOrganization", func(t *testing.T) {
		_, err := service.CreateScheduledJob(ctx, "", validDateRequest())
		assert.ErrorContains(t, err, "organization_id")
	})

	t.Run("EmptyJobName", func(t *testing.T) {
		req := validDateRequest()
		req.JobName = ""
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "job_name")
	})

	t.Run("InvalidOperationType", func(t *testing.T) {
		req := validDateRequest()
		req.Operation.OperationType = "defragment"
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "operation type")
	})

	t.Run("EmptyTarget", func(t *testing.T) {
		req := validDateRequest()
		req.Operation.Target = models.OperationTarget{}
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "target")
	})

	t.Run("MissingCreatedBy", func(t *testing.T) {
		req := validDateRequest()
		req.Operation.CreatedBy = ""
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "created_by")
	})

	t.Run("InvalidTimeZone", func(t *testing.T) {
		req := validDateRequest()
		req.TimeZone = "Mars/Olympus_Mons"
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "time zone")
	})

	t.Run("DateTriggerRequiresRunAt", func(t *testing.T) {
		req := validDateRequest()
		req.RunAt = nil
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "run_at is required")
	})

	t.Run("DateTriggerRejectsPastRunAt", func(t *testing.T) {
		req := validDateRequest()
		req.RunAt = timePtr(time.Now().Add(-time.Hour))
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "must be in the future")
	})

	t.Run("CronTriggerRequiresSpec", func(t *testing.T) {
		req := validDateRequest()
		req.TriggerType = models.TriggerCron
		req.RunAt = nil
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "cron_spec is required")
	})

	t.Run("CronTriggerRejectsBadSpec", func(t *testing.T) {
		req := validDateRequest()
		req.TriggerType = models.TriggerCron
		req.RunAt = nil
		req.CronSpec = strPtr("every day at dawn")
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "invalid cron spec")
	})

	t.Run("CronTriggerRejectsExpiredEndDate", func(t *testing.T) {
		req := validDateRequest()
		req.TriggerType = models.TriggerCron
		req.RunAt = nil
		req.CronSpec = strPtr("0 3 * * *")
		req.EndDate = timePtr(time.Now().Add(-time.Hour))
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "never fires before end_date")
	})

	t.Run("UnknownTriggerType", func(t *testing.T) {
		req := validDateRequest()
		req.TriggerType = "lunar_phase"
		_, err := service.CreateScheduledJob(ctx, orgID, req)
		assert.ErrorContains(t, err, "invalid trigger type")
	})
}

func setupTestSchedulerService(t *testing.T) (*SchedulerService, func()) {
	cfg, err := testutils.LoadTestConfig()
	if err != nil {
		t.Skipf("skipping database-backed test: %v", err)
	}

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	require.NoError(t, err, "Failed to create database connection")

	scheduledJobsRepo := db.NewPostgresScheduledJobsRepository(dbConn, cfg.DatabaseSchema)
	service := NewSchedulerService(scheduledJobsRepo)

	cleanup := func() {
		dbConn.Close()
	}
	return service, cleanup
}

func TestSchedulerService(t *testing.T) {
	service, cleanup := setupTestSchedulerService(t)
	defer cleanup()

	ctx := context.Background()

	cronRequest := func(name string) *models.CreateScheduledJobRequest {
		return &models.CreateScheduledJobRequest{
			JobName:     name,
			TriggerType: models.TriggerCron,
			CronSpec:    strPtr("0 3 * * *"),
			Operation:   *testutils.TestInstallRequest([]string{"agent-a"}, []string{"app-1"}),
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		job, err := service.CreateScheduledJob(ctx, orgID, cronRequest("nightly-install"))
		require.NoError(t, err)
		defer func() { _ = service.CancelScheduledJob(ctx, job.ID, orgID) }()

		assert.Contains(t, job.ID, "sj_")
		assert.Equal(t, "UTC", job.TimeZone)
		assert.False(t, job.NextRunAt.IsZero())

		maybeJob, err := service.GetScheduledJobByID(ctx, job.ID, orgID)
		require.NoError(t, err)
		require.True(t, maybeJob.IsPresent())
		fetched := maybeJob.MustGet()
		assert.Equal(t, job.JobName, fetched.JobName)
		require.NotNil(t, fetched.CronSpec)
		assert.Equal(t, "0 3 * * *", *fetched.CronSpec)
	})

	t.Run("DuplicateNameRejected", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		job, err := service.CreateScheduledJob(ctx, orgID, cronRequest("weekly-roundup"))
		require.NoError(t, err)
		defer func() { _ = service.CancelScheduledJob(ctx, job.ID, orgID) }()

		_, err = service.CreateScheduledJob(ctx, orgID, cronRequest("weekly-roundup"))
		assert.ErrorContains(t, err, "already exists")
	})

	t.Run("CancelRemovesJob", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		job, err := service.CreateScheduledJob(ctx, orgID, cronRequest("cancel-me"))
		require.NoError(t, err)

		require.NoError(t, service.CancelScheduledJob(ctx, job.ID, orgID))

		maybeJob, err := service.GetScheduledJobByID(ctx, job.ID, orgID)
		require.NoError(t, err)
		assert.False(t, maybeJob.IsPresent())

		err = service.CancelScheduledJob(ctx, job.ID, orgID)
		assert.Error(t, err)
	})

	t.Run("AdvanceCronJobMovesNextRun", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		job, err := service.CreateScheduledJob(ctx, orgID, cronRequest("advance-cron"))
		require.NoError(t, err)
		defer func() { _ = service.CancelScheduledJob(ctx, job.ID, orgID) }()

		firedAt := job.NextRunAt.Add(time.Second)
		require.NoError(t, service.AdvanceJob(ctx, job, firedAt))

		maybeJob, err := service.GetScheduledJobByID(ctx, job.ID, orgID)
		require.NoError(t, err)
		advanced := maybeJob.MustGet()
		assert.True(t, advanced.NextRunAt.After(job.NextRunAt))
	})

	t.Run("AdvanceDateJobRemovesIt", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		req := &models.CreateScheduledJobRequest{
			JobName:     "one-shot",
			TriggerType: models.TriggerDate,
			RunAt:       timePtr(time.Now().Add(time.Hour)),
			Operation:   *testutils.TestInstallRequest([]string{"agent-a"}, []string{"app-1"}),
		}
		job, err := service.CreateScheduledJob(ctx, orgID, req)
		require.NoError(t, err)

		require.NoError(t, service.AdvanceJob(ctx, job, job.NextRunAt))

		maybeJob, err := service.GetScheduledJobByID(ctx, job.ID, orgID)
		require.NoError(t, err)
		assert.False(t, maybeJob.IsPresent())
	})
}
