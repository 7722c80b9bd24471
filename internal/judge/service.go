// Package judge runs a program against test cases and grades each result.
package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"prologd-judge/internal/grading"
	"prologd-judge/internal/monitor"
	"prologd-judge/internal/sandbox"
)

// Executor runs one program with one runtime input.
type Executor interface {
	Run(ctx context.Context, code, input string) (*sandbox.Outcome, error)
}

// TestCase is a (runtime input, expected output) pair.
type TestCase struct {
	Input    string `yaml:"data_in"`
	Expected string `yaml:"data_out"`
}

// CaseResult is the graded result of one test case.
type CaseResult struct {
	Input    string
	Expected string
	Output   string
	Error    string
	Passed   bool

	RunID     string
	Status    string
	ErrorCode string
	Duration  time.Duration
}

// Report aggregates a testing run. Cases mirror the input order.
type Report struct {
	Total  int
	Passed int
	OK     bool
	Cases  []CaseResult
}

// Service is the test orchestrator.
type Service struct {
	exec      Executor
	evaluator *grading.Evaluator
	metrics   *monitor.Metrics
	detector  *monitor.Detector
	tracer    *monitor.Tracer
}

// NewService wires an executor and grading evaluator. metrics may be nil.
func NewService(exec Executor, evaluator *grading.Evaluator, metrics *monitor.Metrics) *Service {
	return &Service{
		exec:      exec,
		evaluator: evaluator,
		metrics:   metrics,
		detector:  monitor.NewDetector(),
		tracer:    monitor.NewTracer(),
	}
}

// Debug runs code once with input and returns the outcome without grading.
func (s *Service) Debug(ctx context.Context, code, input string) (*sandbox.Outcome, error) {
	ctx, span := s.tracer.StartSpan(ctx, "judge.debug")
	defer span.End()

	s.screen(code, input)

	out, err := s.run(ctx, "debug", code, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		return nil, err
	}
	span.SetAttributes(monitor.AttrStatus.String(out.Status()))
	return out, nil
}

// Test runs code against every case in order and grades each outcome.
func (s *Service) Test(ctx context.Context, code string, cases []TestCase, routine string) (*Report, error) {
	return s.TestStream(ctx, code, cases, routine, nil)
}

// TestStream is Test with a callback invoked after each case. An
// infrastructure failure aborts the whole run and no report is returned.
// Request cancellation does not stop the run between cases; each case is
// bounded by the runner's own timeout.
func (s *Service) TestStream(ctx context.Context, code string, cases []TestCase, routine string, onCase func(int, CaseResult)) (*Report, error) {
	ctx, span := s.tracer.StartSpan(ctx, "judge.testing", monitor.AttrCases.Int(len(cases)))
	defer span.End()

	s.screen(code, "")

	grader := &lazyRoutine{evaluator: s.evaluator, routine: routine, tracer: s.tracer}
	report := &Report{
		Total: len(cases),
		Cases: make([]CaseResult, 0, len(cases)),
	}

	for i, tc := range cases {
		if dets := s.detector.AnalyzeInput(tc.Input); len(dets) > 0 {
			s.recordDetections(dets)
		}

		out, err := s.run(ctx, "testing", code, tc.Input)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run failed")
			return nil, fmt.Errorf("test case %d: %w", i+1, err)
		}

		res := CaseResult{
			Input:    tc.Input,
			Expected: tc.Expected,
			Output:   out.Output,
			Error:    out.Error,
			RunID:    out.ID,
			Status:   out.Status(),
			Duration: out.Duration,
		}

		if out.Error == "" {
			passed, gerr := grader.eval(ctx, tc.Expected, out.Output)
			if gerr != nil {
				res.Error = gerr.Error()
				res.ErrorCode = grading.CodeOf(gerr)
				res.Status = "grading_error"
				if s.metrics != nil {
					s.metrics.RecordGradingError(res.ErrorCode)
				}
			} else {
				res.Passed = passed
			}
		}

		if res.Passed {
			report.Passed++
		}
		if s.metrics != nil {
			s.metrics.RecordCase(res.Passed)
		}

		report.Cases = append(report.Cases, res)
		if onCase != nil {
			onCase(i, res)
		}
	}

	report.OK = report.Passed == report.Total
	span.SetAttributes(monitor.AttrPassed.Int(report.Passed))

	log.Info().
		Int("cases", report.Total).
		Int("passed", report.Passed).
		Bool("ok", report.OK).
		Msg("testing run completed")

	return report, nil
}

func (s *Service) run(ctx context.Context, mode, code, input string) (*sandbox.Outcome, error) {
	out, err := s.exec.Run(ctx, code, input)
	if err != nil {
		if s.metrics != nil {
			errType := "infrastructure"
			if sandbox.IsInvalidRequest(err) {
				errType = "validation"
			}
			s.metrics.RecordError(errType)
		}
		return nil, err
	}

	if dets := s.detector.AnalyzeOutput(out.Output); len(dets) > 0 {
		s.recordDetections(dets)
	}
	if s.metrics != nil {
		s.metrics.RecordRun(mode, out.Status(), out.Duration.Seconds(), len(out.Output)+len(out.Error))
	}
	return out, nil
}

// screen logs and counts suspicious submissions. It never blocks a run.
func (s *Service) screen(code, input string) {
	if s.metrics != nil {
		s.metrics.CodeSizeBytes.Observe(float64(len(code)))
	}
	s.recordDetections(s.detector.AnalyzeCode(code))
	if input != "" {
		s.recordDetections(s.detector.AnalyzeInput(input))
	}
}

func (s *Service) recordDetections(dets []monitor.Detection) {
	if s.metrics == nil {
		return
	}
	for _, d := range dets {
		s.metrics.RecordSecurityEvent(d.Pattern)
	}
}

// lazyRoutine compiles the routine on first use and keeps the result,
// including a compile error, for the rest of the request.
type lazyRoutine struct {
	evaluator *grading.Evaluator
	routine   string
	tracer    *monitor.Tracer

	compiled bool
	program  *grading.Routine
	err      error
}

func (l *lazyRoutine) eval(ctx context.Context, expected, actual string) (bool, error) {
	if !l.compiled {
		_, span := l.tracer.StartSpan(ctx, "grading.compile")
		l.program, l.err = l.evaluator.Compile(l.routine)
		l.compiled = true
		if l.err != nil {
			span.SetAttributes(monitor.AttrErrorCode.String(grading.CodeOf(l.err)))
			span.SetStatus(codes.Error, "compile failed")
		}
		span.End()
	}
	if l.err != nil {
		return false, l.err
	}
	return l.program.Eval(expected, actual)
}
