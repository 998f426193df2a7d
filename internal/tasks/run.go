package tasks

import (
	"fmt"
	"strings"

	"enrollassist-backend/internal/match"
	"enrollassist-backend/internal/scrapers/portal"
)

func (m *Manager) run(task Task, done <-chan struct{}) {
	switch task.Kind {
	case KindKeyword:
		m.runKeyword(task, done)
	default:
		m.runDirect(task, task.Courses, 0, done)
	}
}

// remainingAttempts converts the task ceiling into a ceiling for a loop that
// starts after used attempts were already recorded. 0 means unbounded.
func remainingAttempts(task Task, used int) int {
	if task.MaxAttempts == nil {
		return 0
	}
	remaining := *task.MaxAttempts - used
	if remaining < 1 {
		remaining = 1
	}
	return remaining
}

// runDirect submits every course that is not confirmed yet on each attempt
// until all of them are confirmed.
func (m *Manager) runDirect(task Task, courses []portal.CourseRecord, used int, done <-chan struct{}) {
	confirmed := map[string]bool{}
	var last portal.Verdict

	policy := RetryPolicy{
		Interval:    task.Interval,
		MaxAttempts: remainingAttempts(task, used),
	}
	outcome := policy.Run(m.clock, done, func(n int) Attempt {
		var failures []string
		for _, course := range courses {
			if confirmed[course.Key()] {
				continue
			}
			verdict, err := m.backend.Enroll(m.ctx, task.Site, task.Credential, course)
			last = verdict
			if verdict.Success() {
				confirmed[course.Key()] = true
				continue
			}
			reason := verdict.Message
			if err != nil {
				reason = err.Error()
			}
			if reason == "" {
				reason = describeVerdict(verdict)
			}
			failures = append(failures, fmt.Sprintf("%s: %s", courseLabel(course), reason))
		}

		keys := confirmedKeys(courses, confirmed)
		if !m.setConfirmed(task.ID, keys) {
			return AttemptAbort
		}

		message := fmt.Sprintf("%d of %d courses confirmed", len(keys), len(courses))
		if len(failures) > 0 {
			message += "; " + strings.Join(failures, "; ")
		}
		_, live := m.recordAttempt(task.ID, message)
		if !live {
			return AttemptAbort
		}
		if len(keys) == len(courses) {
			return AttemptSucceeded
		}
		return AttemptRetry
	})

	switch outcome {
	case OutcomeSucceeded:
		result := &Result{Verdict: last}
		for _, course := range courses {
			if confirmed[course.Key()] {
				result.Confirmed = append(result.Confirmed, course)
			}
		}
		m.complete(task.ID, fmt.Sprintf("enrolled in %d courses", len(courses)), result)
	case OutcomeExhausted:
		current, err := m.Get(task.ID)
		if err != nil {
			return
		}
		m.fail(task.ID, fmt.Sprintf("attempt ceiling reached after %d attempts: %s", current.Attempts, current.Message))
	}
}

// runKeyword resolves parameters if needed, then refreshes the catalog until
// a course matches the keywords and continues as a direct task on it.
func (m *Manager) runKeyword(task Task, done <-chan struct{}) {
	params := task.Params
	if params == nil {
		resolved, err := m.backend.Resolve(m.ctx, task.Site, portal.ResolveRequest{
			Credential: task.Credential,
			Category:   task.Category,
		})
		if err != nil {
			m.tel.ReportWarning(report_manager_resolve, err, task.ID)
			m.fail(task.ID, fmt.Sprintf("parameter discovery failed: %s", err.Error()))
			return
		}
		if !m.setParams(task.ID, resolved) {
			return
		}
		params = &resolved
	}

	var target portal.CourseRecord
	var fetchErr error
	catalogDown := false
	used := 0

	fetchPolicy := RetryPolicy{
		Interval:    m.catalogInterval,
		MaxAttempts: m.catalogFailures,
	}
	search := RetryPolicy{
		Interval:    m.catalogInterval,
		MaxAttempts: remainingAttempts(task, 0),
	}
	outcome := search.Run(m.clock, done, func(n int) Attempt {
		var catalog portal.CatalogResult
		fetched := fetchPolicy.Run(m.clock, done, func(failures int) Attempt {
			result, err := m.backend.Fetch(m.ctx, task.Site, task.Credential, *params)
			if err != nil {
				fetchErr = err
				m.setMessage(task.ID, fmt.Sprintf(
					"catalog fetch failed (%d of %d): %s",
					failures, m.catalogFailures, err.Error(),
				))
				return AttemptRetry
			}
			catalog = result
			return AttemptSucceeded
		})
		switch fetched {
		case OutcomeCancelled:
			return AttemptAbort
		case OutcomeExhausted:
			catalogDown = true
			return AttemptAbort
		}

		best, ok := match.Best(catalog.Courses, task.Keywords)
		if !ok {
			count, live := m.recordAttempt(task.ID, fmt.Sprintf(
				"no course among %d matched %s",
				len(catalog.Courses), strings.Join(task.Keywords, ", "),
			))
			if !live {
				return AttemptAbort
			}
			used = count
			return AttemptRetry
		}

		target = best.Course
		if !m.setTarget(task.ID, target) {
			return AttemptAbort
		}
		m.setMessage(task.ID, fmt.Sprintf("matched %s (score %.2f)", courseLabel(target), best.Score))
		return AttemptSucceeded
	})

	switch outcome {
	case OutcomeAborted:
		if catalogDown {
			m.fail(task.ID, fmt.Sprintf(
				"catalog unavailable after %d consecutive failures: %s",
				m.catalogFailures, fetchErr.Error(),
			))
		}
		return
	case OutcomeCancelled:
		return
	case OutcomeExhausted:
		m.fail(task.ID, "attempt ceiling reached before any course matched the keywords")
		return
	}

	m.runDirect(task, []portal.CourseRecord{target}, used, done)
}

func confirmedKeys(courses []portal.CourseRecord, confirmed map[string]bool) []string {
	keys := []string{}
	for _, c := range courses {
		if confirmed[c.Key()] {
			keys = append(keys, c.Key())
		}
	}
	return keys
}

func courseLabel(c portal.CourseRecord) string {
	if c.Title != "" {
		return fmt.Sprintf("%s (%s)", c.Title, c.Key())
	}
	return c.Key()
}

func describeVerdict(v portal.Verdict) string {
	switch {
	case v.FlagOK && !v.Confirmed:
		return "portal claimed success but the course is not in the selected list"
	case !v.FlagOK && v.Confirmed:
		return "course is selected but the portal did not confirm the request"
	}
	return "enrollment rejected"
}
