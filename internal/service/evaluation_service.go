package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/repository"
	"github.com/abdulalimswe/FairMark/internal/service/analyzer"
	"github.com/abdulalimswe/FairMark/internal/service/integration"
	"github.com/abdulalimswe/FairMark/internal/service/policy"
	"github.com/abdulalimswe/FairMark/internal/worker/queue"
	"github.com/abdulalimswe/FairMark/pkg/utils"
)

const commentFooter = "---\n" +
	"💡 Note: This evaluation was generated automatically by FairMark AI.\n" +
	"The timestamp shown is in UTC. Your browser will display it in your local timezone.\n"

// EvaluationService runs the evaluate-and-publish pipeline for one novel
// fingerprint.
type EvaluationService interface {
	// EvaluateAndPublish never panics and never returns an error; the
	// outcome is carried in the result.
	EvaluateAndPublish(ctx context.Context, req models.EvaluationRequest) models.EvaluationResult
	// EvaluateIdentity fetches the submission fresh and evaluates it. The
	// ledger is not consulted or updated.
	EvaluateIdentity(ctx context.Context, id models.SubmissionIdentity) (*models.EvaluateResponse, error)
}

type EvaluationConfig struct {
	PolicyText        string
	EvaluationTimeout time.Duration
	SideEffectTimeout time.Duration
	PreviewLength     int
}

type evaluationService struct {
	canvas        integration.CanvasClient
	evaluator     integration.Evaluator
	publisher     integration.Publisher
	fingerprinter analyzer.Fingerprinter
	policy        *policy.Engine
	archive       repository.FeedbackArchive
	reportRepo    repository.EvaluationRepository
	events        queue.EventPublisher
	logger        zerolog.Logger
	config        EvaluationConfig
	now           func() time.Time
}

// NewEvaluationService accepts nil archive, reportRepo and events; those side
// effects are then skipped.
func NewEvaluationService(
	canvas integration.CanvasClient,
	evaluator integration.Evaluator,
	publisher integration.Publisher,
	fingerprinter analyzer.Fingerprinter,
	policyEngine *policy.Engine,
	archive repository.FeedbackArchive,
	reportRepo repository.EvaluationRepository,
	events queue.EventPublisher,
	logger zerolog.Logger,
	config EvaluationConfig,
) EvaluationService {
	if config.SideEffectTimeout <= 0 {
		config.SideEffectTimeout = 10 * time.Second
	}
	if config.PreviewLength <= 0 {
		config.PreviewLength = 500
	}
	if policyEngine == nil {
		policyEngine = policy.NewEngine(nil)
	}

	return &evaluationService{
		canvas:        canvas,
		evaluator:     evaluator,
		publisher:     publisher,
		fingerprinter: fingerprinter,
		policy:        policyEngine,
		archive:       archive,
		reportRepo:    reportRepo,
		events:        events,
		logger:        logger,
		config:        config,
		now:           time.Now,
	}
}

func (s *evaluationService) EvaluateAndPublish(ctx context.Context, req models.EvaluationRequest) (result models.EvaluationResult) {
	startTime := s.now()
	logger := s.logger.With().
		Int64("course_id", req.Identity.CourseID).
		Int64("assignment_id", req.Identity.AssignmentID).
		Int64("user_id", req.Identity.UserID).
		Int("attempt", req.Attempt).
		Str("fingerprint", req.Fingerprint.Prefix()).
		Logger()

	report := s.startReport(ctx, req, startTime, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Recovered from panic in evaluation pipeline")
			result = models.EvaluationFailure(fmt.Sprintf("internal error: %v", r))
			result.Duration = s.now().Sub(startTime)
			s.finishFailed(ctx, req, report, result.Reason, logger)
		}
	}()

	if s.config.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.EvaluationTimeout)
		defer cancel()
	}

	result, comment, err := s.run(ctx, req, logger)
	result.Duration = s.now().Sub(startTime)

	if err != nil {
		result.Status = models.EvaluationFailed
		result.Reason = err.Error()

		level := zerolog.ErrorLevel
		if isPermanentError(err) {
			level = zerolog.WarnLevel
		}
		logger.WithLevel(level).Err(err).Dur("duration", result.Duration).Msg("Evaluation failed")

		s.finishFailed(ctx, req, report, result.Reason, logger)
		return result
	}

	result.Status = models.EvaluationSucceeded
	archiveKey := s.archiveComment(ctx, req, comment, logger)
	s.finishCompleted(ctx, req, report, result, archiveKey, logger)

	logger.Info().
		Bool("late", result.Lateness.IsLate).
		Int("penalty_percent", result.Lateness.PenaltyPercent).
		Bool("rubric_found", result.RubricFound).
		Dur("duration", result.Duration).
		Msg("Evaluation published")

	return result
}

// run performs the mandatory steps. Any error leaves the fingerprint unmarked.
func (s *evaluationService) run(ctx context.Context, req models.EvaluationRequest, logger zerolog.Logger) (models.EvaluationResult, string, error) {
	var result models.EvaluationResult

	if strings.TrimSpace(req.Attachment.URL) == "" {
		return result, "", permanent(errors.New("attachment url missing"))
	}

	assignment, err := s.canvas.GetAssignment(ctx, req.Identity.CourseID, req.Identity.AssignmentID)
	if err != nil {
		return result, "", classify(fmt.Errorf("failed to fetch assignment: %w", err))
	}

	result.Lateness = s.policy.Evaluate(assignment.DueAt, req.SubmittedAt)
	if result.Lateness.IsLate {
		logger.Info().Int("late_minutes", result.Lateness.LateMinutes).Msg("Submission is late")
	}

	packet := s.buildPacket(req, assignment, result.Lateness)
	result.RubricFound = len(packet.Rubric) > 0

	feedback, err := s.evaluator.Evaluate(ctx, packet)
	if err != nil {
		return result, "", classify(fmt.Errorf("evaluator failed: %w", err))
	}
	if strings.TrimSpace(feedback) == "" {
		return result, "", errors.New("evaluator returned empty feedback")
	}

	comment := FormatComment(req.Attempt, s.now(), feedback)
	if err := s.publisher.Publish(ctx, req.Identity, comment); err != nil {
		return result, "", classify(fmt.Errorf("failed to publish comment: %w", err))
	}

	result.CommentPreview = truncateRunes(feedback, s.config.PreviewLength)
	return result, comment, nil
}

func (s *evaluationService) buildPacket(req models.EvaluationRequest, assignment *models.Assignment, verdict models.LatenessVerdict) *models.EvaluationPacket {
	packet := &models.EvaluationPacket{
		SubmissionMeta: models.SubmissionMeta{
			SubmissionID:   req.SubmissionID,
			UserID:         req.Identity.UserID,
			Attempt:        req.Attempt,
			SubmittedAt:    req.SubmittedAt,
			DueAt:          assignment.DueAt,
			Late:           verdict.IsLate,
			LateMinutes:    verdict.LateMinutes,
			GraceApplied:   verdict.GraceApplied,
			PenaltyPercent: verdict.PenaltyPercent,
			ContentHash:    req.Fingerprint.ContentHash,
		},
		Course: models.PacketCourse{CourseID: req.Identity.CourseID},
		Assignment: models.PacketAssignment{
			AssignmentID:     req.Identity.AssignmentID,
			Title:            assignment.Name,
			PointsPossible:   assignment.PointsPossible,
			InstructionsHTML: assignment.Description,
		},
		Attachment: models.PacketAttachment{
			Filename: req.Attachment.Name(),
			URL:      req.Attachment.URL,
		},
	}

	for _, criterion := range assignment.Rubric {
		packet.Rubric = append(packet.Rubric, models.PacketRubricItem{
			Name:   criterion.Name(),
			Points: criterion.Points,
		})
	}

	if text := strings.TrimSpace(s.config.PolicyText); text != "" {
		packet.PolicyText = &text
	}

	return packet
}

func (s *evaluationService) EvaluateIdentity(ctx context.Context, id models.SubmissionIdentity) (*models.EvaluateResponse, error) {
	submission, err := s.canvas.GetSubmission(ctx, id.CourseID, id.AssignmentID, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionLookup, err)
	}

	if reason := submission.Eligibility(); reason != models.SkipNone {
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, reason)
	}

	attempt := submission.AttemptNumber()
	attachment := submission.Attachments[0]

	fp, err := s.fingerprinter.Fingerprint(ctx, attempt, attachment.URL)
	if err != nil {
		return nil, err
	}

	req := models.EvaluationRequest{
		Identity:     id,
		SubmissionID: submission.ID,
		Attempt:      attempt,
		SubmittedAt:  submission.SubmittedAt,
		Attachment:   attachment,
		Fingerprint:  fp,
	}

	return &models.EvaluateResponse{
		Identity: id,
		Attempt:  attempt,
		Result:   s.EvaluateAndPublish(ctx, req),
	}, nil
}

// sideEffectContext outlives the evaluation deadline so that bookkeeping
// still runs after a timeout.
func (s *evaluationService) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.config.SideEffectTimeout)
}

func (s *evaluationService) startReport(ctx context.Context, req models.EvaluationRequest, startTime time.Time, logger zerolog.Logger) *models.EvaluationReport {
	if s.reportRepo == nil {
		return nil
	}

	report := &models.EvaluationReport{
		ID:           utils.GenerateUUID(),
		CourseID:     req.Identity.CourseID,
		AssignmentID: req.Identity.AssignmentID,
		UserID:       req.Identity.UserID,
		SubmissionID: req.SubmissionID,
		Attempt:      req.Attempt,
		ContentHash:  req.Fingerprint.ContentHash,
		Status:       models.ReportStatusProcessing.String(),
		CreatedAt:    startTime,
	}

	sideCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	if err := s.reportRepo.Create(sideCtx, report); err != nil {
		logger.Error().Err(err).Msg("Failed to create evaluation report")
		return nil
	}
	return report
}

func (s *evaluationService) finishCompleted(ctx context.Context, req models.EvaluationRequest, report *models.EvaluationReport, result models.EvaluationResult, archiveKey string, logger zerolog.Logger) {
	completedAt := s.now()
	processingTime := int(result.Duration.Milliseconds())

	sideCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	if report != nil {
		report.Status = models.ReportStatusCompleted.String()
		report.Late = result.Lateness.IsLate
		report.LateMinutes = result.Lateness.LateMinutes
		report.PenaltyPercent = result.Lateness.PenaltyPercent
		report.CommentPreview = result.CommentPreview
		report.ProcessingTimeMs = &processingTime
		report.CompletedAt = &completedAt
		if archiveKey != "" {
			report.ArchiveKey = &archiveKey
		}
		if details, err := json.Marshal(result); err == nil {
			report.Details = details
		}

		if err := s.reportRepo.Update(sideCtx, report); err != nil {
			logger.Error().Err(err).Msg("Failed to update evaluation report")
		}
	}

	if s.events != nil {
		event := models.EvaluationCompletedEvent{
			EventID:        utils.GenerateUUID(),
			CourseID:       req.Identity.CourseID,
			AssignmentID:   req.Identity.AssignmentID,
			UserID:         req.Identity.UserID,
			Attempt:        req.Attempt,
			ContentHash:    req.Fingerprint.ContentHash,
			Late:           result.Lateness.IsLate,
			PenaltyPercent: result.Lateness.PenaltyPercent,
			ArchiveKey:     archiveKey,
			ProcessingTime: processingTime,
			CompletedAt:    completedAt,
		}
		if err := s.events.PublishCompleted(sideCtx, event); err != nil {
			logger.Error().Err(err).Msg("Failed to publish evaluation completed event")
		}
	}
}

func (s *evaluationService) finishFailed(ctx context.Context, req models.EvaluationRequest, report *models.EvaluationReport, reason string, logger zerolog.Logger) {
	failedAt := s.now()

	sideCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	if report != nil {
		report.Status = models.ReportStatusFailed.String()
		report.ErrorMessage = &reason
		report.CompletedAt = &failedAt

		if err := s.reportRepo.Update(sideCtx, report); err != nil {
			logger.Error().Err(err).Msg("Failed to update failed evaluation report")
		}
	}

	if s.events != nil {
		event := models.EvaluationFailedEvent{
			EventID:      utils.GenerateUUID(),
			CourseID:     req.Identity.CourseID,
			AssignmentID: req.Identity.AssignmentID,
			UserID:       req.Identity.UserID,
			Attempt:      req.Attempt,
			ContentHash:  req.Fingerprint.ContentHash,
			Error:        reason,
			FailedAt:     failedAt,
		}
		if err := s.events.PublishFailed(sideCtx, event); err != nil {
			logger.Error().Err(err).Msg("Failed to publish evaluation failed event")
		}
	}
}

func (s *evaluationService) archiveComment(ctx context.Context, req models.EvaluationRequest, comment string, logger zerolog.Logger) string {
	if s.archive == nil {
		return ""
	}

	sideCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	key := repository.FeedbackKey(req.Identity, req.Fingerprint)
	if err := s.archive.Store(sideCtx, key, []byte(comment)); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Failed to archive feedback")
		return ""
	}
	return key
}

// FormatComment wraps evaluator feedback in the header and footer posted to
// the submission.
func FormatComment(attempt int, evaluatedAt time.Time, feedback string) string {
	return fmt.Sprintf("[Attempt #%d]\nEvaluated at: %s UTC\n\n%s\n\n%s",
		attempt,
		evaluatedAt.UTC().Format("2006-01-02 15:04:05"),
		strings.TrimSpace(feedback),
		commentFooter,
	)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
